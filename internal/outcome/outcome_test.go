package outcome

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultOK(t *testing.T) {
	t.Parallel()

	r := OK()
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
	assert.Equal(t, "ok", r.String())
}

func TestFailDefaultsReason(t *testing.T) {
	t.Parallel()

	r := Fail(KindEmpty, "")
	assert.False(t, r.OK())
	assert.Equal(t, "file is empty", r.Reason)

	r = Fail(KindNone, "boom")
	assert.Equal(t, KindProcessingFailed, r.Kind)
}

func TestErrUnwrapsToSentinel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind Kind
		want error
	}{
		{KindNotFound, ErrNotFound},
		{KindTooLarge, ErrTooLarge},
		{KindTimeout, ErrTimeout},
		{KindToolUnavailable, ErrToolUnavailable},
		{KindOutputNotCreated, ErrOutputNotCreated},
	}
	for _, tc := range cases {
		err := Failf(tc.kind, "reason %d", 1).Err()
		require.Error(t, err)
		assert.ErrorIs(t, err, tc.want)
		assert.Equal(t, "reason 1", err.Error())
	}
}

func TestFromError(t *testing.T) {
	t.Parallel()

	assert.True(t, FromError(nil, "x").OK())

	wrapped := fmt.Errorf("spool: %w", Fail(KindEmpty, "File is empty").Err())
	r := FromError(wrapped, "fallback")
	assert.Equal(t, KindEmpty, r.Kind)
	assert.Equal(t, "File is empty", r.Reason)

	r = FromError(fmt.Errorf("write: %w", ErrTooLarge), "File too large")
	assert.Equal(t, KindTooLarge, r.Kind)
	assert.Equal(t, "File too large", r.Reason)

	r = FromError(errors.New("disk on fire"), "Failed to process file")
	assert.Equal(t, KindProcessingFailed, r.Kind)
	assert.Equal(t, "Failed to process file", r.Reason)
}
