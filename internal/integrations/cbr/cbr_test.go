package cbr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyRateResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <KeyRateResponse xmlns="http://web.cbr.ru/">
      <KeyRateResult>
        <diffgr:diffgram xmlns:diffgr="urn:schemas-microsoft-com:xml-diffgram-v1">
          <KeyRate xmlns="">
            <KR><DT>2024-06-10T00:00:00+03:00</DT><Rate>16,00</Rate></KR>
            <KR><DT>2024-06-07T00:00:00+03:00</DT><Rate>15,50</Rate></KR>
          </KeyRate>
        </diffgr:diffgram>
      </KeyRateResult>
    </KeyRateResponse>
  </soap:Body>
</soap:Envelope>`

func newTestClient(url string, margin float64) *CBRClient {
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := NewCBRClient(&config.Config{CBRURL: url, Fund: config.Fund{RateMargin: margin}}, log)
	c.now = func() time.Time { return time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestParseXMLResponse(t *testing.T) {
	rate, err := parseXMLResponse([]byte(keyRateResponse))
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(16)), rate.String())

	_, err = parseXMLResponse([]byte(`<root/>`))
	assert.Error(t, err)

	_, err = parseXMLResponse([]byte(`not xml`))
	assert.Error(t, err)
}

func TestDailyRateFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "http://web.cbr.ru/KeyRate", r.Header.Get("SOAPAction"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<fromDate>2024-05-12</fromDate>")
		assert.Contains(t, string(body), "<ToDate>2024-06-11</ToDate>")
		w.Write([]byte(keyRateResponse))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 5)
	rate, err := c.DailyRate(context.Background())
	require.NoError(t, err)
	// (16 + 5)% a year is 21000/365 per 100000 a day
	assert.Equal(t, int64(57), rate)
}

func TestDailyRateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).DailyRate(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "503"))
}

func TestAnnualToDaily(t *testing.T) {
	assert.Equal(t, int64(50), AnnualToDaily(decimal.RequireFromString("18.25")))
	assert.Equal(t, int64(0), AnnualToDaily(decimal.Zero))
	assert.Equal(t, int64(0), AnnualToDaily(decimal.NewFromInt(-3)))
}
