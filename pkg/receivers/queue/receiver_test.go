package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmend/flowmend/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopReport(_ context.Context, _ *models.ErrorReport) error {
	return nil
}

func TestNewReceiver(t *testing.T) {
	receiver, err := NewReceiver(Config{URL: "redis://localhost:6379/2", Queue: "errors"}, noopReport, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "errors", receiver.queue)
	assert.Equal(t, 2, receiver.opts.DB)
}

func TestNewReceiver_DefaultQueue(t *testing.T) {
	receiver, err := NewReceiver(Config{URL: "redis://localhost:6379"}, noopReport, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultQueue, receiver.queue)
}

func TestNewReceiver_Validation(t *testing.T) {
	_, err := NewReceiver(Config{}, noopReport, discardLogger())
	require.Error(t, err)

	_, err = NewReceiver(Config{URL: "redis://localhost:6379"}, nil, discardLogger())
	require.Error(t, err)

	_, err = NewReceiver(Config{URL: "not a url"}, noopReport, discardLogger())
	require.Error(t, err)
}

func TestDecodeReport(t *testing.T) {
	report, err := decodeReport([]byte(`{
		"workflow_id": "wf-1",
		"execution_id": "exec-7",
		"message": "ECONNREFUSED 10.0.0.5:5432",
		"node_name": "Save Rows"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "wf-1", report.WorkflowID)
	assert.Equal(t, "exec-7", report.ExecutionID)
	assert.Equal(t, "Save Rows", report.NodeName)
	assert.False(t, report.Timestamp.IsZero(), "missing timestamp is stamped on receive")
}

func TestDecodeReport_Invalid(t *testing.T) {
	_, err := decodeReport([]byte("not json"))
	require.Error(t, err)

	// Structurally valid JSON but not a usable report.
	_, err = decodeReport([]byte(`{"message": "boom"}`))
	require.Error(t, err)

	_, err = decodeReport([]byte(`{"workflow_id": "wf-1"}`))
	require.Error(t, err)
}
