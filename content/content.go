// Package content loads the quiz question bank and the wisdom outcomes.
//
// The default bank is embedded in the binary; CONTENT_FILE can point at a
// TOML file with the same layout to replace it.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

//go:embed default.toml
var defaultBank []byte

// Question is one quiz prompt and its expected answer.
type Question struct {
	Q string `toml:"q"`
	A string `toml:"a"`
}

// Tarot is a card drawn on a favorable wisdom outcome.
type Tarot struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Outcomes are the two pools of wisdom replies.
type Outcomes struct {
	Good []string `toml:"good"`
	Bad  []string `toml:"bad"`
}

// Bank holds all content the chat commands draw from.
type Bank struct {
	Questions []Question `toml:"questions"`
	Outcomes  Outcomes   `toml:"outcomes"`
	Tarots    []Tarot    `toml:"tarots"`
}

// Default returns the embedded bank.
func Default() (*Bank, error) {
	return Parse(defaultBank)
}

// Load reads a bank from path, or the embedded default when path is empty.
func Load(path string) (*Bank, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a TOML bank.
func Parse(b []byte) (*Bank, error) {
	var bank Bank
	if err := toml.Unmarshal(b, &bank); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if err := bank.validate(); err != nil {
		return nil, err
	}
	return &bank, nil
}

func (b *Bank) validate() error {
	var errs []error
	if len(b.Questions) == 0 {
		errs = append(errs, errors.New("content: no questions"))
	}
	for i, q := range b.Questions {
		if strings.TrimSpace(q.Q) == "" || strings.TrimSpace(q.A) == "" {
			errs = append(errs, fmt.Errorf("content: question %d has empty text or answer", i))
		}
	}
	if len(b.Outcomes.Good) == 0 || len(b.Outcomes.Bad) == 0 {
		errs = append(errs, errors.New("content: outcomes need good and bad entries"))
	}
	if len(b.Tarots) == 0 {
		errs = append(errs, errors.New("content: no tarot cards"))
	}
	return errors.Join(errs...)
}

// RandomQuestion picks a question using r.
func (b *Bank) RandomQuestion(r *rand.Rand) Question {
	return b.Questions[r.IntN(len(b.Questions))]
}

// RandomGood picks a favorable outcome.
func (b *Bank) RandomGood(r *rand.Rand) string {
	return b.Outcomes.Good[r.IntN(len(b.Outcomes.Good))]
}

// RandomBad picks an unfavorable outcome.
func (b *Bank) RandomBad(r *rand.Rand) string {
	return b.Outcomes.Bad[r.IntN(len(b.Outcomes.Bad))]
}

// RandomTarot picks a tarot card.
func (b *Bank) RandomTarot(r *rand.Rand) Tarot {
	return b.Tarots[r.IntN(len(b.Tarots))]
}
