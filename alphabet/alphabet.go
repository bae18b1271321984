// Package alphabet provides motif alphabets (nucleotides, amino acids,
// codons) and sequences encoded as arrays of alphabet codes.
//
// An alphabet has K motifs (the states of a substitution model) and
// a number of additional ambiguity codes. Code i < K is the motif i,
// codes >= K are ambiguity codes which map to a set of possible
// motifs. The probability row of a code is used as a leaf partial
// likelihood.
package alphabet

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/Davydov/lhtree/bio"
)

// ErrUnknownSymbol is returned when a symbol is not a part of the
// alphabet.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Alphabet is an ordered set of motifs plus ambiguity codes. It is
// immutable after creation.
type Alphabet struct {
	// Name is the alphabet name used in the registry.
	Name string
	// MotifLength is number of characters in a motif (e.g. 3 for
	// codons).
	MotifLength int

	motifs []string
	// codes are symbols, first K are motifs.
	codes []string
	// possibilities stores allowed motifs for every code.
	possibilities [][]int
	index         map[string]int
	// missing is the code for the completely unknown state.
	missing int
	// lenient alphabets encode unknown symbols as missing.
	lenient bool
}

// New creates a new alphabet. Ambiguities map a symbol to the motifs
// it can represent; missing symbols represent any motif and are all
// encoded by the same code. If lenient
// is true, unknown symbols are encoded as missing data.
func New(name string, motifLength int, motifs []string, ambiguities map[string][]string,
	missing []string, lenient bool) (*Alphabet, error) {
	if len(motifs) == 0 {
		return nil, errors.New("empty alphabet")
	}
	a := &Alphabet{
		Name:        name,
		MotifLength: motifLength,
		motifs:      append([]string(nil), motifs...),
		index:       make(map[string]int, len(motifs)+len(ambiguities)+len(missing)),
		lenient:     lenient,
	}
	add := func(sym string, poss []int) error {
		if _, ok := a.index[sym]; ok {
			return fmt.Errorf("duplicate symbol %q", sym)
		}
		a.index[sym] = len(a.codes)
		a.codes = append(a.codes, sym)
		a.possibilities = append(a.possibilities, poss)
		return nil
	}
	for i, m := range motifs {
		if len(m) != motifLength {
			return nil, fmt.Errorf("motif %q has length %d, expected %d", m, len(m), motifLength)
		}
		if err := add(m, []int{i}); err != nil {
			return nil, err
		}
	}

	// sorted for a deterministic code order
	ambSyms := make([]string, 0, len(ambiguities))
	for sym := range ambiguities {
		ambSyms = append(ambSyms, sym)
	}
	sort.Strings(ambSyms)
	for _, sym := range ambSyms {
		poss := make([]int, 0, len(ambiguities[sym]))
		for _, m := range ambiguities[sym] {
			i, ok := a.index[m]
			if !ok || i >= len(motifs) {
				return nil, fmt.Errorf("ambiguity %q refers to unknown motif %q", sym, m)
			}
			poss = append(poss, i)
		}
		sort.Ints(poss)
		if err := add(sym, poss); err != nil {
			return nil, err
		}
	}

	all := make([]int, len(motifs))
	for i := range all {
		all[i] = i
	}
	// all the missing symbols share a single code named after the
	// first one
	a.missing = len(a.codes)
	if len(missing) == 0 {
		a.codes = append(a.codes, strings.Repeat("?", motifLength))
	} else {
		a.codes = append(a.codes, missing[0])
	}
	a.possibilities = append(a.possibilities, all)
	for _, sym := range missing {
		if _, ok := a.index[sym]; ok {
			return nil, fmt.Errorf("duplicate symbol %q", sym)
		}
		a.index[sym] = a.missing
	}
	return a, nil
}

// K returns number of motifs.
func (a *Alphabet) K() int {
	return len(a.motifs)
}

// NCodes returns number of codes including ambiguity codes.
func (a *Alphabet) NCodes() int {
	return len(a.codes)
}

// Motif returns i-th motif.
func (a *Alphabet) Motif(i int) string {
	return a.motifs[i]
}

// Motifs returns a copy of the motif list.
func (a *Alphabet) Motifs() []string {
	return append([]string(nil), a.motifs...)
}

// Symbol returns the symbol of a code.
func (a *Alphabet) Symbol(code int) string {
	return a.codes[code]
}

// Missing returns the code of the completely unknown state.
func (a *Alphabet) Missing() int {
	return a.missing
}

// Encode returns a code for a symbol.
func (a *Alphabet) Encode(sym string) (int, error) {
	if code, ok := a.index[sym]; ok {
		return code, nil
	}
	if a.lenient {
		return a.missing, nil
	}
	return 0, fmt.Errorf("%w %q in %s alphabet", ErrUnknownSymbol, sym, a.Name)
}

// Possibilities returns motifs which code can represent. The result
// should not be modified.
func (a *Alphabet) Possibilities(code int) []int {
	return a.possibilities[code]
}

// IsAmbiguous returns true if the code is not a single motif.
func (a *Alphabet) IsAmbiguous(code int) bool {
	return code >= len(a.motifs)
}

// Row writes the probability row of a code to dst (length K): one for
// every possible motif and zero otherwise.
func (a *Alphabet) Row(code int, dst []float64) {
	if code == a.missing {
		for i := range dst {
			dst[i] = 1
		}
		return
	}
	for i := range dst {
		dst[i] = 0
	}
	for _, m := range a.possibilities[code] {
		dst[m] = 1
	}
}

// String returns alphabet description.
func (a *Alphabet) String() string {
	return fmt.Sprintf("<Alphabet %s: K=%d, codes=%d>", a.Name, a.K(), a.NCodes())
}

// mustNew is used for the built-in alphabets.
func mustNew(name string, motifLength int, motifs []string, ambiguities map[string][]string,
	missing []string, lenient bool) *Alphabet {
	a, err := New(name, motifLength, motifs, ambiguities, missing, lenient)
	if err != nil {
		panic(err)
	}
	return a
}

func split(s string) (r []string) {
	for _, c := range s {
		r = append(r, string(c))
	}
	return
}

func nucleotideAmbiguities(t string) map[string][]string {
	amb := map[string]string{
		"R": "AG", "Y": "CT", "S": "GC", "W": "AT", "K": "GT", "M": "AC",
		"B": "CGT", "D": "AGT", "H": "ACT", "V": "ACG",
	}
	res := make(map[string][]string, len(amb))
	for sym, poss := range amb {
		res[sym] = split(strings.Replace(poss, "T", t, -1))
	}
	return res
}

func codonMotifs() (motifs []string) {
	for _, codon := range bio.GetCodons() {
		if !bio.IsStopCodon(codon) {
			motifs = append(motifs, codon)
		}
	}
	return
}

var (
	// DNA is the nucleotide alphabet with IUPAC ambiguity codes.
	DNA = mustNew("dna", 1, split("TCAG"), nucleotideAmbiguities("T"),
		[]string{"N", "-", "?"}, false)
	// RNA is the RNA alphabet with IUPAC ambiguity codes.
	RNA = mustNew("rna", 1, split("UCAG"), nucleotideAmbiguities("U"),
		[]string{"N", "-", "?"}, false)
	// Protein is the amino acid alphabet.
	Protein = mustNew("protein", 1, split("ACDEFGHIKLMNPQRSTVWY"),
		map[string][]string{
			"B": {"D", "N"},
			"Z": {"E", "Q"},
			"J": {"I", "L"},
		},
		[]string{"X", "-", "?"}, false)
	// Codon is the sense codon alphabet of the standard genetic
	// code. Codons with gaps, ambiguities or stop codons are
	// treated as missing data.
	Codon = mustNew("codon", 3, codonMotifs(), nil, []string{"---", "NNN", "???"}, true)
)

// registry is filled in init and never modified afterwards.
var registry = map[string]*Alphabet{}

func init() {
	for _, a := range []*Alphabet{DNA, RNA, Protein, Codon} {
		registry[a.Name] = a
	}
}

// Get returns a built-in alphabet by name.
func Get(name string) (*Alphabet, error) {
	a, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown alphabet %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return a, nil
}

// Names returns the names of the built-in alphabets.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
