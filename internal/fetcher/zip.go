package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// shapefileParts are the sidecar extensions read with a .shp layer.
var shapefileParts = map[string]bool{
	".shp": true,
	".shx": true,
	".dbf": true,
	".prj": true,
	".cpg": true,
}

// ExtractShapefile unpacks the shapefile layer of a zipped download (the
// form IGAC and DANE publish vereda layers in) into destDir and returns the
// path of its .shp. The archive must hold exactly one .shp; other files are
// skipped.
func ExtractShapefile(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	var shp []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !shapefileParts[strings.ToLower(filepath.Ext(f.Name))] {
			continue
		}
		path, err := extractEntry(f, destDir)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(filepath.Ext(path), ".shp") {
			shp = append(shp, path)
		}
	}

	switch len(shp) {
	case 1:
		return shp[0], nil
	case 0:
		return "", eris.Wrap(&MissingInputError{Source: zipPath, Columns: []string{"*.shp"}}, "fetcher: shapefile archive")
	default:
		return "", eris.Errorf("fetcher: archive %s holds %d shapefiles, expected 1", zipPath, len(shp))
	}
}

// extractEntry writes one archive member under destDir, keeping its
// relative path.
func extractEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("fetcher: illegal archive path %q", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: open %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return "", eris.Wrapf(err, "fetcher: extract %s", f.Name)
	}
	return destPath, eris.Wrap(out.Close(), "fetcher: close file")
}
