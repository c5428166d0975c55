package passphrase

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeSource(env map[string]string, terminal bool, typed string, readErr error) (*Source, *int) {
	reads := 0
	s := NewSource("RECYCLER_ENGINE_PASS", "engine keystore")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return terminal }
	s.read = func() ([]byte, error) {
		reads++
		return []byte(typed), readErr
	}
	s.prompt = &bytes.Buffer{}
	return s, &reads
}

func TestGetPrefersEnvironment(t *testing.T) {
	s, reads := fakeSource(map[string]string{"RECYCLER_ENGINE_PASS": "hunter2"}, true, "typed", nil)
	value, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
	require.Zero(t, *reads)
}

func TestGetRejectsEmptyEnvironment(t *testing.T) {
	s, _ := fakeSource(map[string]string{"RECYCLER_ENGINE_PASS": "  "}, true, "typed", nil)
	_, err := s.Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestGetPromptsOnceOnTerminal(t *testing.T) {
	s, reads := fakeSource(nil, true, "typed", nil)
	for i := 0; i < 2; i++ {
		value, err := s.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", value)
	}
	require.Equal(t, 1, *reads)
	require.Contains(t, s.prompt.(*bytes.Buffer).String(), "engine keystore passphrase")
}

func TestGetWithoutTerminalFails(t *testing.T) {
	s, _ := fakeSource(nil, false, "", nil)
	_, err := s.Get()
	require.ErrorContains(t, err, "RECYCLER_ENGINE_PASS")
}

func TestGetSurfacesReadError(t *testing.T) {
	s, _ := fakeSource(nil, true, "", errors.New("tty gone"))
	_, err := s.Get()
	require.ErrorContains(t, err, "tty gone")
}
