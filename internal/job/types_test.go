package job

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseEngine(t *testing.T) {
	t.Parallel()

	for _, e := range Engines() {
		got, err := ParseEngine(string(e))
		require.NoError(t, err)
		require.Equal(t, e, got)
	}

	got, err := ParseEngine("  Cheerio ")
	require.NoError(t, err)
	require.Equal(t, EngineCheerio, got)

	_, err = ParseEngine("selenium")
	require.ErrorIs(t, err, ErrUnsupportedEngine)

	_, err = ParseEngine("")
	require.ErrorIs(t, err, ErrUnsupportedEngine)
}

func TestEngineHeadless(t *testing.T) {
	t.Parallel()

	require.False(t, EngineCheerio.Headless())
	require.True(t, EnginePlaywright.Headless())
	require.True(t, EnginePuppeteer.Headless())
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusPending, StatusWaiting, StatusRunning} {
		require.False(t, s.Terminal(), "status %s", s)
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		require.True(t, s.Terminal(), "status %s", s)
	}
}

func TestUnitOwner(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	rootID := uuid.New()

	u := Unit{JobID: jobID, Kind: KindScrape}
	require.Equal(t, jobID, u.Owner())

	child := Unit{JobID: jobID, Kind: KindCrawlPage, RootID: rootID}
	require.Equal(t, rootID, child.Owner())
}
