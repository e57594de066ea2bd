package shapefile

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/barrier-explorer/internal/resilience"
)

// components are the sidecar extensions kept when extracting archives.
var components = map[string]bool{
	".shp": true, ".shx": true, ".dbf": true, ".prj": true, ".cpg": true,
}

// Resolve turns an import source into local .shp paths. Sources may be a
// .shp path, a .zip archive, or an http(s) URL to either. Downloads and
// extracted files are written under workDir.
func Resolve(ctx context.Context, src, workDir string) ([]string, error) {
	local := src
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		var err error
		if local, err = download(ctx, src, workDir); err != nil {
			return nil, err
		}
	}
	if strings.EqualFold(filepath.Ext(local), ".zip") {
		dest, err := os.MkdirTemp(workDir, "extract-")
		if err != nil {
			return nil, eris.Wrap(err, "shapefile: create extract dir")
		}
		return ExtractArchive(local, dest)
	}
	return []string{local}, nil
}

// ExtractArchive extracts the shapefile components of a ZIP archive into
// destDir and returns the .shp paths in name order.
func ExtractArchive(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	var shps []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !components[strings.ToLower(path.Ext(f.Name))] {
			continue
		}
		p, err := extractEntry(f, destDir)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Ext(p), ".shp") {
			shps = append(shps, p)
		}
	}
	if len(shps) == 0 {
		return nil, eris.Errorf("shapefile: archive %s contains no .shp file", zipPath)
	}
	sort.Strings(shps)
	return shps, nil
}

func extractEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("shapefile: illegal archive path %q", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "shapefile: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "shapefile: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "shapefile: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrapf(err, "shapefile: extract %s", f.Name)
	}
	return destPath, nil
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// download fetches url into workDir, retrying network errors and 5xx
// responses.
func download(ctx context.Context, url, workDir string) (string, error) {
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		name = "download.zip"
	}
	dir, err := os.MkdirTemp(workDir, "download-")
	if err != nil {
		return "", eris.Wrap(err, "shapefile: create download dir")
	}
	dest := filepath.Join(dir, name)

	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 3
	cfg.OnRetry = resilience.RetryLogger("shapefile download")

	n, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, eris.Wrap(err, "shapefile: build request")
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return 0, resilience.NewTransientError(eris.Wrapf(err, "shapefile: get %s", url))
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("shapefile: get %s: status %d", url, resp.StatusCode)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return 0, resilience.NewTransientError(err)
			}
			return 0, err
		}

		out, err := os.Create(dest)
		if err != nil {
			return 0, eris.Wrap(err, "shapefile: create download file")
		}
		defer out.Close() //nolint:errcheck
		n, err := io.Copy(out, resp.Body)
		if err != nil {
			return 0, resilience.NewTransientError(eris.Wrapf(err, "shapefile: read %s", url))
		}
		return n, nil
	})
	if err != nil {
		return "", err
	}

	zap.L().Info("shapefile: downloaded", zap.String("url", url), zap.Int64("bytes", n))
	return dest, nil
}
