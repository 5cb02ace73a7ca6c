package sensitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWord(t *testing.T) {
	w, err := NewWord("../../resources/sensitive/other.txt")
	require.NoError(t, err)
	pass, str := w.Validate("第一夫人")
	assert.Equal(t, false, pass)
	assert.Equal(t, "第一夫人", str)

	str = w.Replace("你是协警", '！')
	assert.Equal(t, "你是！！", str)
}

func TestExtraWordsCaseInsensitive(t *testing.T) {
	w, err := NewWord("", "Casino", "  ")
	require.NoError(t, err)

	pass, hit := w.Validate("Best CASINO bonus")
	assert.False(t, pass)
	assert.Equal(t, "casino", hit)

	assert.Equal(t, []string{"casino"}, w.FindAll("casino night"))

	pass, _ = w.Validate("Go 1.24 released")
	assert.True(t, pass)
}

func TestNewWordMissingDict(t *testing.T) {
	_, err := NewWord("does/not/exist.txt")
	assert.Error(t, err)
}
