package alphabet

import (
	"fmt"
	"strings"

	"bitbucket.org/Davydov/lhtree/bio"
)

// Sequence is a named sequence stored as alphabet codes.
type Sequence struct {
	Name     string
	Alphabet *Alphabet
	Codes    []int
}

// Sequences is an alignment of encoded sequences.
type Sequences []Sequence

// EncodeSequence converts a string to alphabet codes.
func (a *Alphabet) EncodeSequence(name, s string) (Sequence, error) {
	if len(s)%a.MotifLength != 0 {
		return Sequence{}, fmt.Errorf("sequence %s: length %d doesn't divide by %d",
			name, len(s), a.MotifLength)
	}
	seq := Sequence{
		Name:     name,
		Alphabet: a,
		Codes:    make([]int, 0, len(s)/a.MotifLength),
	}
	for i := 0; i < len(s); i += a.MotifLength {
		code, err := a.Encode(s[i : i+a.MotifLength])
		if err != nil {
			return Sequence{}, fmt.Errorf("sequence %s, position %d: %w", name, i/a.MotifLength+1, err)
		}
		seq.Codes = append(seq.Codes, code)
	}
	return seq, nil
}

// Encode converts FASTA sequences to an encoded alignment.
func Encode(seqs bio.Sequences, a *Alphabet) (Sequences, error) {
	if err := seqs.Aligned(); err != nil {
		return nil, err
	}
	res := make(Sequences, 0, len(seqs))
	for _, s := range seqs {
		seq, err := a.EncodeSequence(s.Name, s.Sequence)
		if err != nil {
			return nil, err
		}
		res = append(res, seq)
	}
	return res, nil
}

// String returns the decoded sequence.
func (seq Sequence) String() string {
	var b strings.Builder
	for _, c := range seq.Codes {
		b.WriteString(seq.Alphabet.Symbol(c))
	}
	return b.String()
}

// Length returns alignment length in motifs.
func (seqs Sequences) Length() int {
	if len(seqs) == 0 {
		return 0
	}
	return len(seqs[0].Codes)
}

// Names returns sequence names.
func (seqs Sequences) Names() []string {
	names := make([]string, len(seqs))
	for i, s := range seqs {
		names[i] = s.Name
	}
	return names
}

// NAmbiguous returns number of positions with at least one
// ambiguous code.
func (seqs Sequences) NAmbiguous() (count int) {
	for i := 0; i < seqs.Length(); i++ {
		for _, seq := range seqs {
			if seq.Alphabet.IsAmbiguous(seq.Codes[i]) {
				count++
				break
			}
		}
	}
	return
}

// NFixed calculates number of constant positions in the alignment.
func (seqs Sequences) NFixed() (f int) {
	f = seqs.Length()
	for pos := 0; pos < seqs.Length(); pos++ {
		for i := 1; i < len(seqs); i++ {
			if seqs[i].Codes[pos] != seqs[0].Codes[pos] {
				f--
				break
			}
		}
	}
	return
}

// Frequencies computes empirical motif frequencies. Ambiguous codes
// are split equally between their possible motifs, missing data is
// ignored. If there is no data, the frequencies are uniform.
func (seqs Sequences) Frequencies() []float64 {
	if len(seqs) == 0 {
		return nil
	}
	a := seqs[0].Alphabet
	freq := make([]float64, a.K())
	total := 0.0
	for _, seq := range seqs {
		for _, c := range seq.Codes {
			if c == a.Missing() {
				continue
			}
			poss := a.Possibilities(c)
			w := 1 / float64(len(poss))
			for _, m := range poss {
				freq[m] += w
			}
			total++
		}
	}
	if total == 0 {
		return Uniform(a.K())
	}
	for i := range freq {
		freq[i] /= total
	}
	return freq
}

// Uniform returns equal frequencies for k motifs.
func Uniform(k int) []float64 {
	freq := make([]float64, k)
	for i := range freq {
		freq[i] = 1 / float64(k)
	}
	return freq
}
