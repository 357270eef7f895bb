package scraper

import (
	"bufio"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadProxies parses one proxy URL per line. Blank lines and lines
// starting with # are skipped.
func ReadProxies(r io.Reader) ([]string, error) {
	var proxies []string

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		proxy := strings.TrimSpace(scanner.Text())
		if proxy == "" || strings.HasPrefix(proxy, "#") {
			continue
		}

		u, err := url.Parse(proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, eris.Errorf("scraper: invalid proxy on line %d", line)
		}

		proxies = append(proxies, proxy)
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "scraper: read proxies")
	}

	return proxies, nil
}

func LoadProxies(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: open proxies file")
	}

	defer f.Close()

	return ReadProxies(f)
}
