package source

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
)

var (
	supportedExt = map[string]bool{".html": true, ".htm": true, ".md": true, ".markdown": true, ".txt": true}
	htmlTitle    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// Files loads every supported file under dir as an article.
// Titles come from an HTML <title>, a leading markdown heading, or the file name.
func Files(dir string) ([]domain.Article, error) {
	var articles []domain.Article
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		articles = append(articles, domain.Article{
			ID:     filepath.ToSlash(rel),
			Title:  titleOf(path, string(data)),
			Body:   string(data),
			URL:    "file://" + filepath.ToSlash(path),
			Source: "file",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return articles, nil
}

func titleOf(path, content string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		if m := htmlTitle.FindStringSubmatch(content); m != nil {
			if t := strings.TrimSpace(m[1]); t != "" {
				return t
			}
		}
	case ".md", ".markdown":
		sc := bufio.NewScanner(strings.NewReader(content))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "#") {
				return strings.TrimSpace(strings.TrimLeft(line, "#"))
			}
			break
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
