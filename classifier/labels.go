package classifier

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LoadLabels reads one label per line from path. Blank lines are kept so indices line up
// with the model output.
//
// Arguments:
//   - path: The label list.
//
// Returns:
//   - []string: The labels in file order.
//   - error: Error if reading fails or the file holds no labels.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening labels %s", path)
	}
	defer f.Close()

	labels, err := ReadLabels(f)
	return labels, errors.Wrapf(err, "reading labels %s", path)
}

// ReadLabels reads one label per line from r.
func ReadLabels(r io.Reader) ([]string, error) {
	var labels []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		labels = append(labels, strings.TrimSpace(s.Text()))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, errors.New("no labels")
	}
	return labels, nil
}
