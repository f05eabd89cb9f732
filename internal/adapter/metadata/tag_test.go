package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
)

// id3v1 builds a file holding only a 128 byte ID3v1 trailer.
func id3v1(title, artist string) []byte {
	buf := make([]byte, 128)
	copy(buf[0:3], "TAG")
	copy(buf[3:33], title)
	copy(buf[33:63], artist)
	copy(buf[63:93], "Album")
	copy(buf[93:97], "2024")
	buf[127] = 255
	return buf
}

func TestTitle(t *testing.T) {
	dir := t.TempDir()
	r := NewTagReader()

	tagged := filepath.Join(dir, "tagged.mp3")
	require.NoError(t, os.WriteFile(tagged, id3v1("Song", "Band"), 0o644))
	title, err := r.Title(tagged)
	require.NoError(t, err)
	assert.Equal(t, "Band - Song", title)

	noArtist := filepath.Join(dir, "solo.mp3")
	require.NoError(t, os.WriteFile(noArtist, id3v1("Lonely", ""), 0o644))
	title, err = r.Title(noArtist)
	require.NoError(t, err)
	assert.Equal(t, "Lonely", title)

	plain := filepath.Join(dir, "plain.wav")
	require.NoError(t, os.WriteFile(plain, []byte("not a tagged file"), 0o644))
	title, err = r.Title(plain)
	require.NoError(t, err)
	assert.Empty(t, title)
}

func TestTitleMissingFile(t *testing.T) {
	_, err := NewTagReader().Title(filepath.Join(t.TempDir(), "gone.mp3"))
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}
