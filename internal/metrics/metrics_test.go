package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpSign, "test", StatusError))
	RecordOperation(OpSign, "test", time.Now(), errors.New("boom"))
	RecordOperation(OpSign, "test", time.Now(), nil)

	assert.Equal(t, before+1, testutil.ToFloat64(OperationsTotal.WithLabelValues(OpSign, "test", StatusError)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(OperationsTotal.WithLabelValues(OpSign, "test", StatusSuccess)), 1.0)
}

func TestRecordGRPCRequest(t *testing.T) {
	RecordGRPCRequest("/m", "OK")
	assert.Equal(t, 1.0, testutil.ToFloat64(GRPCRequestsTotal.WithLabelValues("/m", "OK")))
}
