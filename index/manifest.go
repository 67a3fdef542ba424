package index

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Manifest is the parsed form of a .kvx file: a database title and an
// ordered list of volume basenames.
type Manifest struct {
	Title   string
	Volumes []string
}

// ParseManifest reads a UTF-8 .kvx manifest. Recognized lines: "# ..."
// comments (ignored), "TITLE <name>", and `DBLIST "vol_0" "vol_1" ...`.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "TITLE"):
			m.Title = strings.TrimSpace(strings.TrimPrefix(line, "TITLE"))
		case strings.HasPrefix(line, "DBLIST"):
			vols, err := parseQuotedList(strings.TrimPrefix(line, "DBLIST"))
			if err != nil {
				return nil, errors.Wrapf(err, "index: manifest line %d", lineNo)
			}
			m.Volumes = append(m.Volumes, vols...)
		default:
			return nil, errors.Errorf("index: manifest line %d: unrecognized directive %q", lineNo, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "index: read manifest")
	}
	return m, nil
}

// parseQuotedList splits a string of space-separated, double-quoted
// tokens, e.g. `"vol_0" "vol_1"`.
func parseQuotedList(s string) ([]string, error) {
	var out []string
	s = strings.TrimSpace(s)
	for len(s) > 0 {
		if s[0] != '"' {
			return nil, fmt.Errorf("expected quoted token, got %q", s)
		}
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return nil, fmt.Errorf("unterminated quoted token in %q", s)
		}
		out = append(out, s[1:1+end])
		s = strings.TrimSpace(s[1+end+1:])
	}
	return out, nil
}

// WriteManifest serializes m in the same textual form ParseManifest
// accepts.
func WriteManifest(w io.Writer, m *Manifest) error {
	if m.Title != "" {
		if _, err := fmt.Fprintf(w, "TITLE %s\n", m.Title); err != nil {
			return err
		}
	}
	if len(m.Volumes) > 0 {
		quoted := make([]string, len(m.Volumes))
		for i, v := range m.Volumes {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		if _, err := fmt.Fprintf(w, "DBLIST %s\n", strings.Join(quoted, " ")); err != nil {
			return err
		}
	}
	return nil
}

// Volume bundles the three mapped readers for one reference volume, plus
// its basename, per the spec's VolumeHandle concept.
type Volume struct {
	Name string
	Kix  *KixReader
	Kpx  *KpxReader
	Ksx  *KsxReader
}

// Close unmaps all three of the volume's files.
func (v *Volume) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{v.Kix, v.Kpx, v.Ksx} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenWarning is a non-fatal problem encountered while opening a database:
// a manifest-listed volume with no files on disk is skipped, not a hard
// failure, per the manifest's documented open-time behavior.
type OpenWarning struct {
	Volume string
	Err    error
}

func (w OpenWarning) String() string {
	return fmt.Sprintf("skipping volume %q: %v", w.Volume, w.Err)
}

// OpenDatabase parses the manifest at manifestPath and opens every listed
// volume's kix/kpx/ksx triple, found relative to dir. A listed volume with
// no kix file on disk is skipped with a warning rather than failing the
// whole open. An optional shared khx is opened if present at
// dir/<title>.khx.
func OpenDatabase(dir, manifestPath string, k int) (vols []*Volume, khx *KhxReader, warnings []OpenWarning, err error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "index: open manifest %s", manifestPath)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, name := range m.Volumes {
		kixPath := filepath.Join(dir, name+".kix")
		if _, statErr := os.Stat(kixPath); statErr != nil {
			warnings = append(warnings, OpenWarning{Volume: name, Err: ErrMissingVolume})
			continue
		}
		kr, err := OpenKix(kixPath)
		if err != nil {
			for _, v := range vols {
				v.Close()
			}
			return nil, nil, nil, err
		}
		pr, err := OpenKpx(filepath.Join(dir, name+".kpx"), k)
		if err != nil {
			kr.Close()
			for _, v := range vols {
				v.Close()
			}
			return nil, nil, nil, err
		}
		sr, err := OpenKsx(filepath.Join(dir, name+".ksx"))
		if err != nil {
			kr.Close()
			pr.Close()
			for _, v := range vols {
				v.Close()
			}
			return nil, nil, nil, err
		}
		vols = append(vols, &Volume{Name: name, Kix: kr, Kpx: pr, Ksx: sr})
	}

	khxPath := filepath.Join(dir, m.Title+".khx")
	if _, statErr := os.Stat(khxPath); statErr == nil {
		khx, err = OpenKhx(khxPath)
		if err != nil {
			for _, v := range vols {
				v.Close()
			}
			return nil, nil, nil, err
		}
	}

	return vols, khx, warnings, nil
}
