package serviceerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCarriesCodeAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("saving: %w", New("history.record", "persist_failed", cause))

	var coded *Error
	require.ErrorAs(t, err, &coded)
	require.Equal(t, "history.record.persist_failed", coded.Code())
	require.ErrorIs(t, err, cause)
	require.Equal(t, "history.record.persist_failed: disk full", coded.Error())
	require.Equal(t, "daily.today.assign_failed", New("daily.today", "assign_failed", nil).Error())
}
