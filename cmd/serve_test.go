package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmd_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "gateway.yaml", flag.DefValue)

	flag = serveCmd.Flags().Lookup("listen")
	require.NotNil(t, flag)
	assert.Equal(t, ":8080", flag.DefValue)

	flag = serveCmd.Flags().Lookup("health-check-interval")
	require.NotNil(t, flag)
	assert.Equal(t, (15 * time.Second).String(), flag.DefValue)
}

func TestRunServe_MissingConfigFileReturnsError(t *testing.T) {
	serveConfigPath = "/nonexistent/gateway.yaml"
	defer func() { serveConfigPath = "gateway.yaml" }()

	err := runServe(serveCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}
