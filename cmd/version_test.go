package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/majordomo-bot/majordomo/majordomo"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := majordomo.Version
	originalCommitSHA := majordomo.CommitSHA
	originalBuildTime := majordomo.BuildTime

	t.Cleanup(
		func() {
			majordomo.Version = originalVersion
			majordomo.CommitSHA = originalCommitSHA
			majordomo.BuildTime = originalBuildTime
		},
	)

	majordomo.Version = "1.0.0"
	majordomo.CommitSHA = "abc123"
	majordomo.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		majordomo.Version,
		majordomo.CommitSHA,
		majordomo.BuildTime,
	)
	assert.Equal(t, expected, output)
}
