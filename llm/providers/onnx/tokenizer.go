package onnx

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Special tokens expected in BERT-style vocabularies.
const (
	padToken = "[PAD]"
	unkToken = "[UNK]"
	clsToken = "[CLS]"
	sepToken = "[SEP]"
)

// Tokenizer is a WordPiece tokenizer driven by a plain-text vocabulary file,
// one token per line. It covers the common BERT-style vocabularies local
// models ship with.
type Tokenizer struct {
	vocab     map[string]int64
	idToToken map[int64]string

	clsID int64
	sepID int64
	padID int64
	unkID int64
}

// NewTokenizer loads a tokenizer from a vocabulary file.
func NewTokenizer(vocabPath string) (*Tokenizer, error) {
	file, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer file.Close()

	t := &Tokenizer{
		vocab:     make(map[string]int64),
		idToToken: make(map[int64]string),
	}
	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		token := scanner.Text()
		t.vocab[token] = id
		t.idToToken[id] = token
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	if len(t.vocab) == 0 {
		return nil, fmt.Errorf("vocabulary is empty: %s", vocabPath)
	}

	t.clsID = t.vocab[clsToken]
	t.sepID = t.vocab[sepToken]
	t.padID = t.vocab[padToken]
	t.unkID = t.vocab[unkToken]
	return t, nil
}

// VocabSize returns the number of entries in the vocabulary.
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// Encode converts text into token IDs, bracketed by [CLS] and [SEP] and
// truncated to maxLength. Lengths below the two bracketing tokens leave no
// room for content and yield just [CLS] [SEP].
func (t *Tokenizer) Encode(text string, maxLength int) []int64 {
	if maxLength < 2 {
		return []int64{t.clsID, t.sepID}
	}
	words := strings.Fields(normalize(text))

	ids := []int64{t.clsID}
	for _, word := range words {
		ids = append(ids, t.encodeWord(word)...)
		if len(ids) >= maxLength-1 {
			break
		}
	}
	if len(ids) > maxLength-1 {
		ids = ids[:maxLength-1]
	}
	return append(ids, t.sepID)
}

// Decode converts token IDs back into text, joining WordPiece continuations
// and dropping special tokens.
func (t *Tokenizer) Decode(ids []int64) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == t.clsID || id == t.sepID || id == t.padID {
			continue
		}
		token, ok := t.idToToken[id]
		if !ok {
			continue
		}
		if cont, found := strings.CutPrefix(token, "##"); found {
			sb.WriteString(cont)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(token)
	}
	return sb.String()
}

// DecodeToken returns the text for a single token, with a leading space for
// word starts. Used for incremental streaming output.
func (t *Tokenizer) DecodeToken(id int64, first bool) string {
	if id == t.clsID || id == t.sepID || id == t.padID {
		return ""
	}
	token, ok := t.idToToken[id]
	if !ok {
		return ""
	}
	if cont, found := strings.CutPrefix(token, "##"); found {
		return cont
	}
	if first {
		return token
	}
	return " " + token
}

func (t *Tokenizer) encodeWord(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}

	var ids []int64
	start := 0
	for start < len(word) {
		end := len(word)
		matched := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				ids = append(ids, id)
				matched = true
				break
			}
			end--
		}
		if !matched {
			ids = append(ids, t.unkID)
			start++
			continue
		}
		start = end
	}
	if len(ids) == 0 {
		return []int64{t.unkID}
	}
	return ids
}

func normalize(text string) string {
	text = strings.ToLower(text)
	var sb strings.Builder
	for _, r := range text {
		if unicode.IsPunct(r) {
			sb.WriteByte(' ')
			sb.WriteRune(r)
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(r)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
