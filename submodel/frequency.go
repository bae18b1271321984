package submodel

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/bio"
)

// rNucleotide is reverse nucleotide alphabet (letter to a number).
var rNucleotide = map[byte]int{'T': 0, 'C': 1, 'A': 2, 'G': 3}

// Frequencies computes equilibrium frequencies from an alignment.
// Method is "equal", "empirical" or "F3X4" (codons only).
func Frequencies(method string, seqs alphabet.Sequences) ([]float64, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("empty alignment")
	}
	a := seqs[0].Alphabet
	switch strings.ToLower(method) {
	case "equal", "f0":
		return alphabet.Uniform(a.K()), nil
	case "empirical":
		return seqs.Frequencies(), nil
	case "f3x4":
		return F3X4(seqs)
	}
	return nil, fmt.Errorf("unknown frequency method: %s", method)
}

// F3X4 computes codon frequencies as products of the nucleotide
// frequencies at the three codon positions.
func F3X4(seqs alphabet.Sequences) ([]float64, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("empty alignment")
	}
	a := seqs[0].Alphabet
	if a.MotifLength != 3 {
		return nil, fmt.Errorf("F3X4 requires a codon alphabet, got %s", a.Name)
	}
	var poscf [3][4]float64
	for _, seq := range seqs {
		for _, code := range seq.Codes {
			if a.IsAmbiguous(code) {
				continue
			}
			cs := a.Motif(code)
			for pos := 0; pos < 3; pos++ {
				poscf[pos][rNucleotide[cs[pos]]]++
			}
		}
	}

	freq := make([]float64, a.K())
	sum := 0.0
	for ci, cs := range a.Motifs() {
		freq[ci] = poscf[0][rNucleotide[cs[0]]] * poscf[1][rNucleotide[cs[1]]] * poscf[2][rNucleotide[cs[2]]]
		sum += freq[ci]
	}
	if sum == 0 {
		return alphabet.Uniform(a.K()), nil
	}
	for ci := range freq {
		freq[ci] /= sum
	}
	return freq, nil
}

// ReadFrequencies reads k frequencies from a reader. It should be
// just a list of numbers in a text format. For codon alphabets the
// file can contain 64 values in the TCAG order, stop codons are
// skipped then.
func ReadFrequencies(rd io.Reader, a *alphabet.Alphabet) ([]float64, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Split(bufio.ScanWords)

	var values []float64
	for scanner.Scan() {
		f, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return nil, err
		}
		values = append(values, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if a.MotifLength == 3 && len(values) == 64 {
		var sense []float64
		for i, codon := range bio.GetCodons() {
			if !bio.IsStopCodon(codon) {
				sense = append(sense, values[i])
			}
		}
		values = sense
	}
	if len(values) != a.K() {
		return nil, fmt.Errorf("%w: read %d frequencies, expected %d", ErrInvalidDistribution, len(values), a.K())
	}
	if err := CheckFreqs(values, a.K()); err != nil {
		return nil, err
	}
	return values, nil
}
