package ytdlp

import (
	"encoding/json"
	"time"

	"github.com/wavetap/wavetap/pkg/extract"
)

// infoDump is the subset of yt-dlp's --dump-single-json output we consume.
type infoDump struct {
	Title      string        `json:"title"`
	Duration   float64       `json:"duration"`
	Uploader   string        `json:"uploader"`
	Thumbnail  string        `json:"thumbnail"`
	WebpageURL string        `json:"webpage_url"`
	URL        string        `json:"url"`
	Formats    []formatEntry `json:"formats"`
	Entries    []infoDump    `json:"entries"`
}

type formatEntry struct {
	FormatID string  `json:"format_id"`
	URL      string  `json:"url"`
	ACodec   string  `json:"acodec"`
	VCodec   string  `json:"vcodec"`
	ABR      float64 `json:"abr"`
	TBR      float64 `json:"tbr"`
}

// hasAudio reports whether the format carries an audio track.
func (f formatEntry) hasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// audioOnly reports whether the format carries audio and no video.
func (f formatEntry) audioOnly() bool {
	return f.hasAudio() && (f.VCodec == "" || f.VCodec == "none")
}

// bitrate is the comparable quality score of a format: audio bitrate when
// known, total bitrate otherwise.
func (f formatEntry) bitrate() float64 {
	if f.ABR > 0 {
		return f.ABR
	}
	return f.TBR
}

// parseInfo decodes a --dump-single-json payload into a ResolvedSource.
// When yt-dlp already applied a format selection the top-level url field is
// used; otherwise the best audio-capable format is chosen deterministically.
func parseInfo(data []byte) (*extract.ResolvedSource, error) {
	var info infoDump
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	mediaURL := info.URL
	if mediaURL == "" {
		if best, ok := selectFormat(info.Formats); ok {
			mediaURL = best.URL
		}
	}

	return &extract.ResolvedSource{
		Title:      info.Title,
		Duration:   time.Duration(info.Duration * float64(time.Second)),
		MediaURL:   mediaURL,
		ExpiresAt:  mediaExpiry(mediaURL),
		Uploader:   info.Uploader,
		Thumbnail:  info.Thumbnail,
		WebpageURL: info.WebpageURL,
	}, nil
}

// selectFormat picks the best audio-capable format: the highest-bitrate
// audio-only format when one exists, otherwise the highest-bitrate format
// that carries audio at all. Ties are broken by format_id so the choice is
// deterministic for a given format list.
func selectFormat(formats []formatEntry) (formatEntry, bool) {
	var best formatEntry
	found := false

	better := func(candidate, current formatEntry) bool {
		if candidate.bitrate() != current.bitrate() {
			return candidate.bitrate() > current.bitrate()
		}
		return candidate.FormatID > current.FormatID
	}

	for _, f := range formats {
		if f.URL == "" || !f.audioOnly() {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	if found {
		return best, true
	}

	for _, f := range formats {
		if f.URL == "" || !f.hasAudio() {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	return best, found
}

// parseSearch decodes a --flat-playlist search dump into search results.
type searchDump struct {
	Entries []searchEntry `json:"entries"`
}

type searchEntry struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Uploader   string       `json:"uploader"`
	Duration   float64      `json:"duration"`
	Thumbnail  string       `json:"thumbnail"`
	Thumbnails []thumbEntry `json:"thumbnails"`
}

type thumbEntry struct {
	URL string `json:"url"`
}

func parseSearch(data []byte) ([]extract.SearchResult, error) {
	var dump searchDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, err
	}

	results := make([]extract.SearchResult, 0, len(dump.Entries))
	for _, e := range dump.Entries {
		thumb := e.Thumbnail
		if thumb == "" && len(e.Thumbnails) > 0 {
			thumb = e.Thumbnails[len(e.Thumbnails)-1].URL
		}
		results = append(results, extract.SearchResult{
			ID:        e.ID,
			Title:     e.Title,
			Uploader:  e.Uploader,
			Duration:  time.Duration(e.Duration * float64(time.Second)),
			Thumbnail: thumb,
		})
	}
	return results, nil
}
