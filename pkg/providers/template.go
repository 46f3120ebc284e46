package providers

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"media-resolver-go/pkg/types"
)

// ExpandTemplate fills the placeholders of a provider URL template:
// {tmdb}, {imdb}, {season}, {episode}, {title} and {year}.
func ExpandTemplate(tmpl string, media types.MediaReference) string {
	year := ""
	if media.ReleaseYear > 0 {
		year = strconv.Itoa(media.ReleaseYear)
	}
	r := strings.NewReplacer(
		"{tmdb}", url.PathEscape(media.TMDBID),
		"{imdb}", url.PathEscape(media.IMDBID),
		"{season}", strconv.Itoa(media.SeasonNumber()),
		"{episode}", strconv.Itoa(media.Episode),
		"{title}", url.QueryEscape(media.Title),
		"{year}", year,
	)
	return r.Replace(tmpl)
}

// endpointFor picks the movie or episode template and expands it.
func endpointFor(movieURL, tvURL string, media types.MediaReference) (string, error) {
	tmpl := movieURL
	if media.Kind == types.MediaKindEpisode {
		tmpl = tvURL
	}
	if tmpl == "" {
		return "", fmt.Errorf("no endpoint configured for %s", media.Kind)
	}
	if strings.Contains(tmpl, "{imdb}") && media.IMDBID == "" {
		return "", fmt.Errorf("endpoint requires an imdb id")
	}
	return ExpandTemplate(tmpl, media), nil
}
