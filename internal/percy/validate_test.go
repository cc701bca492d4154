package percy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSnapshotRequiresNameAndURL(t *testing.T) {
	err := ValidateSnapshot(&Snapshot{Widths: []int{375}})
	require.ErrorIs(t, err, ErrSnapshotValidation)

	err = ValidateSnapshot(&Snapshot{Name: "home", Widths: []int{375}})
	require.ErrorIs(t, err, ErrSnapshotValidation)
}

func TestValidateSnapshotRejectsNonHTTPURL(t *testing.T) {
	err := ValidateSnapshot(&Snapshot{Name: "home", URL: "ftp://example.com", Widths: []int{375}})
	require.ErrorIs(t, err, ErrSnapshotValidation)
}

func TestValidateSnapshotRejectsEmptyWidths(t *testing.T) {
	err := ValidateSnapshot(&Snapshot{Name: "home", URL: "https://example.com"})
	require.ErrorIs(t, err, ErrSnapshotValidation)
}

func TestValidateSnapshotRejectsDuplicateWidths(t *testing.T) {
	err := ValidateSnapshot(&Snapshot{Name: "home", URL: "https://example.com", Widths: []int{375, 375}})
	require.ErrorIs(t, err, ErrSnapshotValidation)
}

func TestValidateSnapshotRejectsOutOfRangeWidth(t *testing.T) {
	err := ValidateSnapshot(&Snapshot{Name: "home", URL: "https://example.com", Widths: []int{3000}})
	require.ErrorIs(t, err, ErrSnapshotValidation)
}

func TestValidateSnapshotAcceptsValidPayload(t *testing.T) {
	err := ValidateSnapshot(&Snapshot{Name: "home", URL: "https://example.com", Widths: []int{375, 1280}, MinHeight: 1024})
	require.NoError(t, err)
}

func TestValidateHostnamePatternsRejectsEmptyString(t *testing.T) {
	err := ValidateHostnamePatterns([]string{"*.example.com", ""})
	require.ErrorIs(t, err, ErrConfigValidation)
}

func TestValidateHostnamePatternsAcceptsNonEmpty(t *testing.T) {
	require.NoError(t, ValidateHostnamePatterns([]string{"*.example.com", "cdn.example.org"}))
}

func TestAcceptedMimetype(t *testing.T) {
	require.True(t, AcceptedMimetype("text/css"))
	require.True(t, AcceptedMimetype("image/png"))
	require.True(t, AcceptedMimetype("font/woff2"))
	require.True(t, AcceptedMimetype("application/javascript"))
	require.True(t, AcceptedMimetype("application/json"))
	require.True(t, AcceptedMimetype("application/octet-stream"))
	require.False(t, AcceptedMimetype("application/pdf"))
	require.False(t, AcceptedMimetype("video/mp4"))
}
