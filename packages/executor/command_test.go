package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/env"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandUnit(command string) *model.TestUnit {
	return &model.TestUnit{
		ID:       "ui-login",
		Category: model.CategoryUI,
		Executor: CommandName,
		Spec:     map[string]any{"command": command},
	}
}

func newCommandExecutor(t *testing.T, opts ...CommandOption) *CommandExecutor {
	t.Helper()
	e, err := NewCommandExecutor(opts...)
	require.NoError(t, err)
	return e
}

func TestCommandExecutor_PassWithSteps(t *testing.T) {
	resolver := env.NewResolver()
	resolver.SetVariable("baseUrl", "https://shop.test")
	e := newCommandExecutor(t, WithCommandResolver(resolver))

	a, err := e.Run(context.Background(), commandUnit(`echo "STEP: navigate to {{baseUrl}}/login"; echo noise; echo "STEP: submit form"`), 1)

	require.NoError(t, err)
	assert.Equal(t, model.StatusPass, a.Status)
	assert.Equal(t, []string{"navigate to https://shop.test/login", "submit form"}, a.Steps)
}

func TestCommandExecutor_FailureMessageAndArtifacts(t *testing.T) {
	dir := t.TempDir()
	shot := filepath.Join(dir, "login.png")
	require.NoError(t, os.WriteFile(shot, []byte("png"), 0644))

	e := newCommandExecutor(t)
	a, err := e.Run(context.Background(), commandUnit(
		`echo "STEP: click login"; echo "ARTIFACT: `+shot+`"; echo "FAIL: button not found"; exit 1`), 2)

	require.NoError(t, err)
	assert.Equal(t, model.StatusFail, a.Status)
	assert.Equal(t, "button not found", a.Message())
	assert.Equal(t, []string{"click login"}, a.Steps)

	require.Len(t, a.Captures, 2)
	assert.Equal(t, "login.png", a.Captures[0].Name)
	assert.Equal(t, []byte("png"), a.Captures[0].Data)
	assert.Equal(t, "output.log", a.Captures[1].Name)
}

func TestCommandExecutor_LastLineAsMessage(t *testing.T) {
	a, err := newCommandExecutor(t).Run(context.Background(), commandUnit(`echo "element #cart missing" >&2; exit 3`), 1)

	require.NoError(t, err)
	assert.Equal(t, model.StatusFail, a.Status)
	assert.Equal(t, "element #cart missing", a.Message())
}

func TestCommandExecutor_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	a, err := newCommandExecutor(t).Run(ctx, commandUnit(`sleep 5`), 1)

	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, a.Status)
}

func TestCommandExecutor_MissingDriverIsSetupFault(t *testing.T) {
	_, err := newCommandExecutor(t).Run(context.Background(), commandUnit(`qarun-no-such-driver --headless`), 1)

	require.Error(t, err)
	assert.True(t, model.IsSetupError(err))
}

func TestCommandExecutor_EmptyCommandIsSetupFault(t *testing.T) {
	_, err := newCommandExecutor(t).Run(context.Background(), commandUnit(""), 1)
	assert.True(t, model.IsSetupError(err))
}

func TestNewCommandExecutor_MissingShell(t *testing.T) {
	_, err := NewCommandExecutor(WithShell("qarun-no-such-shell"))
	assert.Error(t, err)
}

func TestParseDriverOutput(t *testing.T) {
	r := parseDriverOutput([]byte("STEP: open\r\nARTIFACT: trace.zip\nplain\n\nFAIL: assertion\n"))

	assert.Equal(t, []string{"open"}, r.steps)
	assert.Equal(t, []string{"trace.zip"}, r.artifacts)
	assert.Equal(t, "assertion", r.failure)
	assert.Equal(t, "plain", r.lastLine)
}
