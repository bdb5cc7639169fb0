package archive

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dietbot/entitlement/pkg/usage"
)

const suffix = ".jsonl"

func objectKey(prefix, day string) string {
	return path.Join(strings.Trim(prefix, "/"), "usage", day+suffix)
}

func checkDay(day string) error {
	if _, err := time.Parse(usage.DayLayout, day); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	return nil
}

func encode(counters []usage.Counter) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range counters {
		if err := enc.Encode(c); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decode(r io.Reader) ([]usage.Counter, error) {
	var out []usage.Counter
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var c usage.Counter
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, sc.Err()
}
