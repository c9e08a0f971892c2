package file

import (
	"errors"
	"fmt"
	"hash/adler32"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// NewJournalByKey opens (or creates) the journal file for a client key,
// usually the Batch job queue name, so separate clients never share a
// file. A journal failing validation is renamed aside, keeping at most
// MaxHistory corrupt copies, and an empty one takes its place.
func NewJournalByKey(key string, config ...Config) (*Journal, error) {
	// Set default config
	cfg := configDefault(config...)

	return (&journalLoader{
		cfg:               cfg,
		fileNameExtractor: regexp.MustCompile(`^(\d+)_(\d+)\.(jnl|corrupt)$`),
	}).load(key)
}

type journalLoader struct {
	cfg               Config
	fileNameExtractor *regexp.Regexp
}

func (q *journalLoader) load(key string) (*Journal, error) {
	h := adler32.New()
	_, _ = h.Write([]byte(key))

	fName := fmt.Sprintf("%d_0.jnl", h.Sum32())
	fPath := filepath.Join(q.cfg.Workspace, fName)
	file, err := os.OpenFile(fPath, os.O_CREATE|os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, err
	}

	journal, err := NewJournal(file)
	if err != nil {
		if errors.Is(err, ErrInvalidFile) {
			if err := q.markCorrupt(file); err != nil {
				return nil, err
			}

			file, err = os.OpenFile(fPath, os.O_CREATE|os.O_RDWR, os.ModePerm)
			if err != nil {
				return nil, err
			}
			return NewJournal(file)
		}
		return nil, err
	}
	return journal, nil
}

func (q *journalLoader) markCorrupt(file *os.File) error {
	err := file.Close()
	if err != nil {
		return err
	}

	name, _, n, err := q.extractName(filepath.Base(file.Name()))
	if err != nil {
		return err
	}
	corruptFilePath := filepath.Join(q.cfg.Workspace, q.buildName(name, "corrupt", n))

	return q.move(file.Name(), corruptFilePath)
}

func (q *journalLoader) buildName(name, t string, n int) string {
	return fmt.Sprintf("%s_%d.%s", name, n, t)
}

func (q *journalLoader) extractName(fileName string) (name, t string, n int, err error) {
	fne := q.fileNameExtractor.FindStringSubmatch(fileName)
	if len(fne) != 4 {
		return "", "", 0, fmt.Errorf("bad name: '%s'", fileName)
	}

	n, err = strconv.Atoi(fne[2])
	if err != nil {
		return "", "", 0, err
	}

	return fne[1], fne[3], n, nil
}

func (q *journalLoader) move(prev, next string) error {
	if exists(next) {
		name, t, n, err := q.extractName(filepath.Base(next))
		if err != nil {
			return err
		}

		err = q.move(next, filepath.Join(q.cfg.Workspace, q.buildName(name, t, n+1)))
		if err != nil {
			return err
		}
	}

	_, _, n, err := q.extractName(filepath.Base(prev))
	if err != nil {
		return err
	}

	if n >= q.cfg.MaxHistory {
		return os.Remove(prev)
	}

	return os.Rename(prev, next)
}
