package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOrder(t *testing.T) {
	before := testutil.ToFloat64(Orders.WithLabelValues("single", "error"))
	RecordOrder("single", errors.New("rejected"))
	assert.Equal(t, before+1, testutil.ToFloat64(Orders.WithLabelValues("single", "error")))
}

func TestRecordSnapshot(t *testing.T) {
	RecordSnapshot(501.25, 42, 3, 1)
	assert.Equal(t, 501.25, testutil.ToFloat64(UnderlyingPrice))
	assert.Equal(t, 42.0, testutil.ToFloat64(QuotesPublished))
	assert.Equal(t, 3.0, testutil.ToFloat64(UnavailableSides.WithLabelValues("bid")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordCycle("published", 120*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "optionschain_refresh_cycles_total")
}
