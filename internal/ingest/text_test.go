package ingest

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTextFile(t *testing.T) {
	assert.True(t, isTextFile("docs/a.md"))
	assert.True(t, isTextFile("docs/A.PDF"))
	assert.True(t, isTextFile("page.htm"))
	assert.False(t, isTextFile("image.png"))
	assert.False(t, isTextFile("Makefile"))
}

func TestTitles(t *testing.T) {
	assert.Equal(t, "getting started", filenameToTitle("/docs/getting-started.md"))
	assert.Equal(t, "api reference", filenameToTitle("api_reference.txt"))

	base, err := url.Parse("https://example.com/docs")
	require.NoError(t, err)
	assert.Equal(t, "Overview", urlToTitle("https://example.com/docs/", base))
	assert.Equal(t, "refund flow", urlToTitle("https://example.com/docs/guides/refund-flow.html", base))
}

func TestExtractMainText(t *testing.T) {
	page := `<html><head><style>body{}</style><script>var x = 1;</script></head>
<body><h1>Title</h1><p>First paragraph.</p><noscript>enable js</noscript><p>x</p><div>Second</div></body></html>`

	assert.Equal(t, "Title\nFirst paragraph.\nSecond", extractMainText(page))
}

func TestExtractLinks(t *testing.T) {
	base, err := url.Parse("https://example.com/docs/")
	require.NoError(t, err)

	page := `<a href="intro">Intro</a>
<a href="/docs/intro">dup</a>
<a href="#top">anchor</a>
<a href="https://other.com/x">external</a>
<a href="/static/app.js">js</a>
<a href="guide.html?tab=2#part">guide</a>`

	assert.Equal(t, []string{
		"https://example.com/docs/intro",
		"https://example.com/docs/guide.html",
	}, extractLinks(page, base))
}

func TestSplitIntoChunks(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, splitIntoChunks("  \n ", 10))
	})

	t.Run("short content is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello\nworld"}, splitIntoChunks(" hello\nworld ", 100))
	})

	t.Run("packs lines up to the limit", func(t *testing.T) {
		content := "aaaa\nbbbb\ncccc\ndddd"
		chunks := splitIntoChunks(content, 10)

		assert.Equal(t, []string{"aaaa\nbbbb", "cccc\ndddd"}, chunks)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 10)
		}
	})

	t.Run("cuts long lines on rune boundaries", func(t *testing.T) {
		line := strings.Repeat("é", 7) // 14 bytes
		chunks := splitIntoChunks(line+"\nend", 5)

		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 5)
			assert.True(t, strings.ToValidUTF8(c, "?") == c)
		}
		assert.Equal(t, line, strings.Join(chunks[:len(chunks)-1], ""))
		assert.Equal(t, "end", chunks[len(chunks)-1])
	})
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "ok", sanitizeUTF8("ok"))
	assert.Equal(t, "ab", sanitizeUTF8("a\xffb"))
}

func TestDetectLang(t *testing.T) {
	en := detectLang("The quick brown fox jumps over the lazy dog while the children are watching from the window.")
	pt := detectLang("O rápido cachorro marrom pulou sobre a cerca enquanto as crianças olhavam pela janela da casa.")

	assert.NotEmpty(t, en)
	assert.NotEmpty(t, pt)
	assert.NotEqual(t, en, pt)
	assert.Equal(t, strings.ToLower(en), en)
}
