package media

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	"go_relay/internal/relay/models"
	"go_relay/internal/relay/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRun 记录参数并把输入文件加前缀写到输出路径
func fakeRun(calls *[][]string) func(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		*calls = append(*calls, args)
		input := args[slices.Index(args, "-i")+1]
		data, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		return nil, os.WriteFile(args[len(args)-1], append([]byte("processed:"), data...), 0o600)
	}
}

func newTestFFmpeg(t *testing.T, calls *[][]string) *FFmpeg {
	f := NewFFmpeg("")
	f.tmpDir = t.TempDir()
	f.run = fakeRun(calls)
	return f
}

func TestWatermarkPhoto(t *testing.T) {
	var calls [][]string
	f := newTestFFmpeg(t, &calls)

	out, err := f.Watermark(context.Background(), transform.MediaInput{
		Kind:     models.MediaPhoto,
		Data:     []byte("jpeg"),
		FileName: "pic.JPG",
	}, models.WatermarkSettings{Enabled: true, Text: "@chan: 100%", Position: models.PositionTopLeft, Opacity: 50})
	require.NoError(t, err)

	assert.Equal(t, []byte("processed:jpeg"), out.Data)
	assert.Equal(t, "pic.JPG", out.FileName)
	require.Len(t, calls, 1)
	args := strings.Join(calls[0], " ")
	assert.Contains(t, args, `drawtext=text='@chan\: 100\%':fontsize=36:fontcolor=white@0.50:x=20:y=20`)
	assert.Contains(t, args, "-frames:v 1")
	assert.True(t, strings.HasSuffix(calls[0][len(calls[0])-1], "out.jpg"))
}

func TestWatermarkEmptyTextUnchanged(t *testing.T) {
	var calls [][]string
	f := newTestFFmpeg(t, &calls)

	_, err := f.Watermark(context.Background(), transform.MediaInput{Kind: models.MediaVideo}, models.WatermarkSettings{Enabled: true})
	assert.ErrorIs(t, err, transform.ErrUnchanged)
	assert.Empty(t, calls)
}

func TestWatermarkCommandFailure(t *testing.T) {
	f := NewFFmpeg("")
	f.tmpDir = t.TempDir()
	f.run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}

	_, err := f.Watermark(context.Background(), transform.MediaInput{Kind: models.MediaVideo, Data: []byte("x")},
		models.WatermarkSettings{Enabled: true, Text: "wm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestProcessAudioTagsOnly(t *testing.T) {
	var calls [][]string
	f := newTestFFmpeg(t, &calls)

	out, err := f.ProcessAudio(context.Background(), transform.MediaInput{
		Kind:     models.MediaAudio,
		Data:     []byte("mp3"),
		FileName: "song.mp3",
	}, models.AudioSettings{Enabled: true}, transform.AudioTags{Title: "Song", Artist: "Band"})
	require.NoError(t, err)
	assert.Equal(t, []byte("processed:mp3"), out.Data)

	args := calls[0]
	assert.Contains(t, args, "title=Song")
	assert.Contains(t, args, "artist=Band")
	assert.NotContains(t, strings.Join(args, " "), "album=")
	assert.NotContains(t, args, "-filter_complex")
}

func TestProcessAudioConcat(t *testing.T) {
	var calls [][]string
	f := newTestFFmpeg(t, &calls)

	intro := t.TempDir() + "/intro.mp3"
	require.NoError(t, os.WriteFile(intro, []byte("intro"), 0o600))

	_, err := f.ProcessAudio(context.Background(), transform.MediaInput{Kind: models.MediaAudio, Data: []byte("mp3")},
		models.AudioSettings{Enabled: true, IntroPath: intro}, transform.AudioTags{})
	require.NoError(t, err)
	assert.Contains(t, strings.Join(calls[0], " "), "[0:a][1:a]concat=n=2:v=0:a=1[a]")

	_, err = f.ProcessAudio(context.Background(), transform.MediaInput{Kind: models.MediaAudio, Data: []byte("mp3")},
		models.AudioSettings{Enabled: true, OutroPath: "/missing/outro.mp3"}, transform.AudioTags{})
	require.Error(t, err)
}

func TestProcessAudioNothingToDo(t *testing.T) {
	var calls [][]string
	f := newTestFFmpeg(t, &calls)

	_, err := f.ProcessAudio(context.Background(), transform.MediaInput{Kind: models.MediaAudio}, models.AudioSettings{Enabled: true}, transform.AudioTags{})
	assert.ErrorIs(t, err, transform.ErrUnchanged)
	assert.Empty(t, calls)
}
