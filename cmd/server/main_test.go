package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/engine"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "calculate", "recalculate", "sweep", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "incentive-engine", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.Flags().Lookup("port"), "serve flags are accepted without a subcommand")
}

func TestCalculateCommand_Flags(t *testing.T) {
	for _, c := range []*cobra.Command{calculateCmd, recalculateCmd} {
		require.NotNil(t, c.Flags().Lookup("facility"), c.Name())
		require.NotNil(t, c.Flags().Lookup("month"), c.Name())
		assert.Equal(t, "false", c.Flags().Lookup("json").DefValue)
	}
}

func TestRecordKeyFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("facility", "", "")
	cmd.Flags().String("month", "", "")
	require.NoError(t, cmd.Flags().Set("facility", "hp-001"))
	require.NoError(t, cmd.Flags().Set("month", "2025-03"))

	key, err := recordKeyFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, engine.RecordKey{FacilityID: "hp-001", Month: engine.NewReportMonth(2025, time.March)}, key)

	require.NoError(t, cmd.Flags().Set("month", "03/2025"))
	_, err = recordKeyFlags(cmd)
	assert.Error(t, err)
}

func TestSweepRequestFlags(t *testing.T) {
	newCmd := func(from, to string) *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().String("from", from, "")
		cmd.Flags().String("to", to, "")
		return cmd
	}

	req, err := sweepRequestFlags(newCmd("", ""))
	require.NoError(t, err)
	assert.Nil(t, req.From)
	assert.Nil(t, req.To)

	req, err = sweepRequestFlags(newCmd("2025-01", "2025-03"))
	require.NoError(t, err)
	require.NotNil(t, req.From)
	require.NotNil(t, req.To)
	assert.Equal(t, engine.NewReportMonth(2025, time.January), *req.From)

	_, err = sweepRequestFlags(newCmd("2025-03", "2025-01"))
	assert.Error(t, err)

	_, err = sweepRequestFlags(newCmd("Jan", ""))
	assert.Error(t, err)
}
