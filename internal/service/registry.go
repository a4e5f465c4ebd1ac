package service

import (
	"context"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/Dan9191/mutual-fund/internal/repository"
)

// Bootstrap grants the admin role to the given identities and registers them
// as members. It bypasses authorization and is meant for process startup.
func (s *Service) Bootstrap(ctx context.Context, admins []string) error {
	return s.store.InTx(ctx, func(tx repository.Tx) error {
		for _, id := range admins {
			if id == "" {
				continue
			}
			if err := tx.GrantRole(ctx, id, models.RoleAdmin); err != nil {
				return err
			}
			if _, ok, err := tx.GetMember(ctx, id); err != nil {
				return err
			} else if !ok {
				if err := tx.SaveMember(ctx, models.Member{ID: id, JoinedAt: s.now()}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// AddMember enrolls an identity; its incubation period starts now
func (s *Service) AddMember(ctx context.Context, id string) (models.Member, error) {
	var member models.Member
	err := s.run(ctx, "add_member", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if id == "" {
			return apperr.ErrInvalidIdentity
		}
		existing, ok, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			member = existing
			return nil
		}
		member = models.Member{ID: id, JoinedAt: s.now()}
		return tx.SaveMember(ctx, member)
	})
	if err != nil {
		return models.Member{}, err
	}
	s.log.Infof("Member added: %s", id)
	return member, nil
}

// RemoveMember removes an identity from the membership registry. Balances are
// untouched; the member can still withdraw.
func (s *Service) RemoveMember(ctx context.Context, id string) error {
	err := s.run(ctx, "remove_member", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if _, ok, err := tx.GetMember(ctx, id); err != nil {
			return err
		} else if !ok {
			return apperr.ErrNotFound.WithMessage("member %s not found", id)
		}
		return tx.DeleteMember(ctx, id)
	})
	if err == nil {
		s.log.Infof("Member removed: %s", id)
	}
	return err
}

// GrantRole grants role to id
func (s *Service) GrantRole(ctx context.Context, id string, role models.Role) error {
	return s.run(ctx, "grant_role", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if id == "" {
			return apperr.ErrInvalidIdentity
		}
		if !role.Valid() {
			return apperr.ErrInvalidRole.WithMessage("unknown role %q", role)
		}
		return tx.GrantRole(ctx, id, role)
	})
}

// RevokeRole revokes role from id
func (s *Service) RevokeRole(ctx context.Context, id string, role models.Role) error {
	return s.run(ctx, "revoke_role", func(tx repository.Tx) error {
		if _, err := requireAdmin(ctx, tx); err != nil {
			return err
		}
		if !role.Valid() {
			return apperr.ErrInvalidRole.WithMessage("unknown role %q", role)
		}
		return tx.RevokeRole(ctx, id, role)
	})
}

// IsMember reports whether id is a current member
func (s *Service) IsMember(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		_, ok, err = tx.GetMember(ctx, id)
		return err
	})
	return ok, err
}

// incubationComplete reports whether id is a member past the incubation period
func (s *Service) incubationComplete(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	m, ok, err := tx.GetMember(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return !s.now().Before(m.JoinedAt.Add(s.policy.IncubationPeriod)), nil
}
