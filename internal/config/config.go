package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxDistributionBatchSize bounds the investors paid in one distribution batch
const MaxDistributionBatchSize = 100

// Config holds application configuration
type Config struct {
	Port             string   `yaml:"port"`
	DBConn           string   `yaml:"db_conn"`
	LogLevel         string   `yaml:"log_level"`
	JWTSecret        string   `yaml:"jwt_secret"`
	CBRURL           string   `yaml:"cbr_url"`
	SMTPHost         string   `yaml:"smtp_host"`
	SMTPPort         string   `yaml:"smtp_port"`
	SMTPUsername     string   `yaml:"smtp_username"`
	SMTPPassword     string   `yaml:"smtp_password"`
	SenderEmail      string   `yaml:"sender_email"`
	NotifyEmails     []string `yaml:"notify_emails"`
	AdminIdentities  []string `yaml:"admin_identities"`
	OperatorIdentity string   `yaml:"operator_identity"`
	Fund             Fund     `yaml:"fund"`
	Schedule         Schedule `yaml:"schedule"`
}

// Fund holds lending policy parameters
type Fund struct {
	MaxLoanAmount         int64         `yaml:"max_loan_amount"`
	MaxLoanTerm           int           `yaml:"max_loan_term"`
	MinVotingWindow       time.Duration `yaml:"min_voting_window"`
	CommitteeSize         int           `yaml:"committee_size"`
	MinCommitteeSize      int           `yaml:"min_committee_size"`
	DistributionBatchSize int           `yaml:"distribution_batch_size"`
	DepositLockTime       time.Duration `yaml:"deposit_lock_time"`
	DailyInterestRate     int64         `yaml:"daily_interest_rate"`
	IncubationPeriod      time.Duration `yaml:"incubation_period"`
	BallotQuorumPercent   int           `yaml:"ballot_quorum_percent"`
	RandomnessFee         int64         `yaml:"randomness_fee"`
	RandomnessCredit      int64         `yaml:"randomness_credit"`
	RandomnessTimeout     time.Duration `yaml:"randomness_timeout"`
	RandomnessMaxAttempts int           `yaml:"randomness_max_attempts"`
	RateMargin            float64       `yaml:"rate_margin"`
}

// Schedule holds cron expressions for background jobs; empty disables a job
type Schedule struct {
	DistributeCron      string `yaml:"distribute_cron"`
	RandomnessRetryCron string `yaml:"randomness_retry_cron"`
	RateSyncCron        string `yaml:"rate_sync_cron"`
}

// NewConfig loads configuration from environment variables, then overlays
// the YAML file named by CONFIG_FILE if set
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBConn:           getEnv("DB_CONN", ""),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:        getEnv("JWT_SECRET", "secret"),
		CBRURL:           getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnv("SMTP_PORT", "587"),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		SenderEmail:      getEnv("SENDER_EMAIL", "fund@localhost"),
		NotifyEmails:     getEnvList("NOTIFY_EMAILS"),
		AdminIdentities:  getEnvList("ADMIN_IDENTITIES"),
		OperatorIdentity: getEnv("OPERATOR_IDENTITY", "operator"),
	}

	var err error
	f := &cfg.Fund
	if f.MaxLoanAmount, err = getEnvInt64("MAX_LOAN_AMOUNT", 1_000_000); err != nil {
		return nil, err
	}
	if f.MaxLoanTerm, err = getEnvInt("MAX_LOAN_TERM", 365); err != nil {
		return nil, err
	}
	if f.MinVotingWindow, err = getEnvDuration("MIN_VOTING_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if f.CommitteeSize, err = getEnvInt("COMMITTEE_SIZE", 12); err != nil {
		return nil, err
	}
	if f.MinCommitteeSize, err = getEnvInt("MIN_COMMITTEE_SIZE", 3); err != nil {
		return nil, err
	}
	if f.DistributionBatchSize, err = getEnvInt("DISTRIBUTION_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if f.DepositLockTime, err = getEnvDuration("DEPOSIT_LOCK_TIME", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if f.DailyInterestRate, err = getEnvInt64("DAILY_INTEREST_RATE", 50); err != nil {
		return nil, err
	}
	if f.IncubationPeriod, err = getEnvDuration("INCUBATION_PERIOD", 90*24*time.Hour); err != nil {
		return nil, err
	}
	if f.BallotQuorumPercent, err = getEnvInt("BALLOT_QUORUM_PERCENT", 50); err != nil {
		return nil, err
	}
	if f.RandomnessFee, err = getEnvInt64("RANDOMNESS_FEE", 1); err != nil {
		return nil, err
	}
	if f.RandomnessCredit, err = getEnvInt64("RANDOMNESS_CREDIT", 1000); err != nil {
		return nil, err
	}
	if f.RandomnessTimeout, err = getEnvDuration("RANDOMNESS_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if f.RandomnessMaxAttempts, err = getEnvInt("RANDOMNESS_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if f.RateMargin, err = getEnvFloat("RATE_MARGIN", 5.0); err != nil {
		return nil, err
	}

	cfg.Schedule = Schedule{
		DistributeCron:      getEnv("DISTRIBUTE_CRON", "0 0 3 * * *"),
		RandomnessRetryCron: getEnv("RANDOMNESS_RETRY_CRON", "0 * * * * *"),
		RateSyncCron:        getEnv("RATE_SYNC_CRON", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks required settings and policy bounds
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.OperatorIdentity == "" {
		return fmt.Errorf("OPERATOR_IDENTITY is required")
	}
	f := c.Fund
	if f.MaxLoanAmount <= 0 {
		return fmt.Errorf("MAX_LOAN_AMOUNT must be positive")
	}
	if f.MaxLoanTerm <= 0 {
		return fmt.Errorf("MAX_LOAN_TERM must be positive")
	}
	if f.MinCommitteeSize < 1 {
		return fmt.Errorf("MIN_COMMITTEE_SIZE must be at least 1")
	}
	if f.CommitteeSize < f.MinCommitteeSize {
		return fmt.Errorf("COMMITTEE_SIZE %d is below MIN_COMMITTEE_SIZE %d", f.CommitteeSize, f.MinCommitteeSize)
	}
	if f.DistributionBatchSize <= 0 || f.DistributionBatchSize > MaxDistributionBatchSize {
		return fmt.Errorf("DISTRIBUTION_BATCH_SIZE must be within 1..%d", MaxDistributionBatchSize)
	}
	if f.BallotQuorumPercent < 0 || f.BallotQuorumPercent > 100 {
		return fmt.Errorf("BALLOT_QUORUM_PERCENT must be within 0..100")
	}
	if f.DailyInterestRate < 0 || f.RandomnessFee < 0 || f.RandomnessCredit < 0 {
		return fmt.Errorf("rates, fees and credits must not be negative")
	}
	if f.RandomnessMaxAttempts < 1 {
		return fmt.Errorf("RANDOMNESS_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultVal, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
