package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Input is one binary payload bundled with a message event, as received
// from the wire before any of it has touched disk.
type Input struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

type StagedFile struct {
	Path         string
	OriginalName string
}

// Staged holds the scratch files written for one message event. The
// enclosing operation defers Release, so every exit path — success, a
// validation failure, or an upload error halfway through — removes every
// file that was written.
type Staged struct {
	files    []StagedFile
	released bool
}

// Stage sanitizes each filename, writes the payload under a
// collision-resistant temporary name in dir, and returns the handle whose
// Release deletes everything. A partial failure cleans up what was already
// written before returning.
func Stage(dir string, inputs []Input) (*Staged, error) {
	if dir == "" {
		return nil, fmt.Errorf("attachment stage: scratch dir required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachment stage: create scratch dir: %w", err)
	}

	staged := &Staged{}
	for _, input := range inputs {
		name := sanitizeFilename(input.Filename)
		path := filepath.Join(dir, uuid.NewString()+"-"+name)

		if err := os.WriteFile(path, input.Data, 0o600); err != nil {
			staged.Release()
			return nil, fmt.Errorf("attachment stage: write %s: %w", name, err)
		}

		staged.files = append(staged.files, StagedFile{
			Path:         path,
			OriginalName: name,
		})
	}

	return staged, nil
}

func (s *Staged) Files() []StagedFile {
	return s.files
}

// Release deletes every staged file. It is idempotent and tolerates files
// that are already gone, so it is safe to run after a successful upload
// whose remote side already consumed and removed its copy.
func (s *Staged) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	for _, f := range s.files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			// Nothing actionable for the caller; the scratch dir is
			// ephemeral and swept on deploy.
			continue
		}
	}
}

// sanitizeFilename strips whitespace and anything outside
// alphanumeric/dot/dash/underscore, which also removes path separators.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" || strings.Trim(out, ".") == "" {
		return "file"
	}
	return out
}
