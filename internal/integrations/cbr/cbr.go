package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RateScale is the denominator of the daily interest rate (per 100000 per day)
const RateScale = 100000

var daysPerYear = decimal.NewFromInt(365)

// CBRClient fetches the Central Bank of Russia key rate and turns it into the
// fund's daily lending rate
type CBRClient struct {
	url    string
	margin decimal.Decimal
	client *http.Client
	log    *logrus.Logger
	now    func() time.Time
}

// NewCBRClient initializes a new CBR client
func NewCBRClient(cfg *config.Config, log *logrus.Logger) *CBRClient {
	return &CBRClient{
		url:    cfg.CBRURL,
		margin: decimal.NewFromFloat(cfg.Fund.RateMargin),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

// buildSOAPRequest creates a SOAP request for the key rate over the last 30 days
func (c *CBRClient) buildSOAPRequest() string {
	now := c.now()
	fromDate := now.AddDate(0, 0, -30).Format("2006-01-02")
	toDate := now.Format("2006-01-02")
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<KeyRate xmlns="http://web.cbr.ru/">
					<fromDate>%s</fromDate>
					<ToDate>%s</ToDate>
				</KeyRate>
			</soap12:Body>
		</soap12:Envelope>`, fromDate, toDate)
}

// sendRequest sends SOAP request to CBR
func (c *CBRClient) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("CBR XML response: %s", string(body))
	return body, nil
}

// parseXMLResponse extracts the latest key rate from the XML response
func parseXMLResponse(rawBody []byte) (decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse XML: %w", err)
	}

	krElements := doc.FindElements("//diffgram/KeyRate/KR")
	if len(krElements) == 0 {
		return decimal.Zero, fmt.Errorf("no key rate data found in XML")
	}

	// The service lists the newest entry first
	rateElement := krElements[0].FindElement("./Rate")
	if rateElement == nil {
		return decimal.Zero, fmt.Errorf("rate element not found in XML")
	}

	text := strings.ReplaceAll(strings.TrimSpace(rateElement.Text()), ",", ".")
	rate, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate %q: %w", text, err)
	}
	return rate, nil
}

// GetKeyRate retrieves the current key rate (annual percent) plus the fund margin
func (c *CBRClient) GetKeyRate(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest())
	if err != nil {
		return decimal.Zero, err
	}

	rate, err := parseXMLResponse(body)
	if err != nil {
		return decimal.Zero, err
	}

	rate = rate.Add(c.margin)
	c.log.Infof("Retrieved key rate: %s%% (including %s%% margin)", rate.StringFixed(2), c.margin.StringFixed(2))
	return rate, nil
}

// DailyRate returns the key rate expressed as the per-100000 daily rate
func (c *CBRClient) DailyRate(ctx context.Context) (int64, error) {
	annual, err := c.GetKeyRate(ctx)
	if err != nil {
		return 0, err
	}
	return AnnualToDaily(annual), nil
}

// AnnualToDaily converts an annual percentage into the per-100000 daily rate,
// rounding down
func AnnualToDaily(annualPercent decimal.Decimal) int64 {
	if annualPercent.Sign() <= 0 {
		return 0
	}
	// percent/100 per year * RateScale / 365
	return annualPercent.Mul(decimal.NewFromInt(RateScale / 100)).Div(daysPerYear).Floor().IntPart()
}
