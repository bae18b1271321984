// Package bio provides FASTA parsing and the standard genetic code.
package bio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Nucleotides is the nucleotide order used to enumerate codons.
const Nucleotides = "TCAG"

var (
	// GeneticCode is a map, codon string (capital letters) is the key,
	// amino acids (capital letter) are values. Stop codons map to '_'.
	GeneticCode = map[string]byte{
		"ATA": 'I', "ATC": 'I', "ATT": 'I', "ATG": 'M',
		"ACA": 'T', "ACC": 'T', "ACG": 'T', "ACT": 'T',
		"AAC": 'N', "AAT": 'N', "AAA": 'K', "AAG": 'K',
		"AGC": 'S', "AGT": 'S', "AGA": 'R', "AGG": 'R',
		"CTA": 'L', "CTC": 'L', "CTG": 'L', "CTT": 'L',
		"CCA": 'P', "CCC": 'P', "CCG": 'P', "CCT": 'P',
		"CAC": 'H', "CAT": 'H', "CAA": 'Q', "CAG": 'Q',
		"CGA": 'R', "CGC": 'R', "CGG": 'R', "CGT": 'R',
		"GTA": 'V', "GTC": 'V', "GTG": 'V', "GTT": 'V',
		"GCA": 'A', "GCC": 'A', "GCG": 'A', "GCT": 'A',
		"GAC": 'D', "GAT": 'D', "GAA": 'E', "GAG": 'E',
		"GGA": 'G', "GGC": 'G', "GGG": 'G', "GGT": 'G',
		"TCA": 'S', "TCC": 'S', "TCG": 'S', "TCT": 'S',
		"TTC": 'F', "TTT": 'F', "TTA": 'L', "TTG": 'L',
		"TAC": 'Y', "TAT": 'Y', "TAA": '_', "TAG": '_',
		"TGC": 'C', "TGT": 'C', "TGA": '_', "TGG": 'W'}
)

// GetCodons returns all 64 codons in TCAG order.
func GetCodons() []string {
	codons := make([]string, 0, 64)
	for _, a := range []byte(Nucleotides) {
		for _, b := range []byte(Nucleotides) {
			for _, c := range []byte(Nucleotides) {
				codons = append(codons, string([]byte{a, b, c}))
			}
		}
	}
	return codons
}

// IsStopCodon tests if the string is a stop-codon (DNA alphabet,
// capital letters).
func IsStopCodon(codon string) bool {
	return GeneticCode[codon] == '_'
}

// Sequence is a type which is intended for storing nucleotide or
// protein sequence with it's name.
type Sequence struct {
	Name     string
	Sequence string
}

// Sequences stores multiple sequences. E.g. a sequence alignment.
type Sequences []Sequence

// ParseFasta parses FASTA sequences from a reader.
func ParseFasta(rd io.Reader) (seqs Sequences, err error) {
	seqs = make(Sequences, 0, 10)
	scanner := bufio.NewScanner(rd)
	// long single-line sequences are common
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<26)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			seq := Sequence{Name: strings.TrimSpace(line[1:])}
			seqs = append(seqs, seq)
		} else {
			if len(seqs) == 0 {
				return nil, errors.New("sequence w/o prefix")
			}
			line = strings.ToUpper(strings.Replace(line, " ", "", -1))
			seqs[len(seqs)-1].Sequence += line
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	return
}

// Aligned checks that all the sequences have the same length and
// unique names.
func (seqs Sequences) Aligned() error {
	names := make(map[string]bool, len(seqs))
	for _, seq := range seqs {
		if len(seq.Sequence) != len(seqs[0].Sequence) {
			return fmt.Errorf("sequence %s has length %d, expected %d",
				seq.Name, len(seq.Sequence), len(seqs[0].Sequence))
		}
		if names[seq.Name] {
			return fmt.Errorf("duplicate sequence name %s", seq.Name)
		}
		names[seq.Name] = true
	}
	return nil
}

// Wrap inputs a string and wraps it so string length is n characters
// or less.
func Wrap(seq string, n int) (s string) {
	var b strings.Builder
	for i := 0; i < len(seq); i += n {
		end := i + n
		if end > len(seq) {
			end = len(seq)
		}
		b.WriteString(seq[i:end])
		b.WriteByte('\n')
	}
	return b.String()
}

// String returns a sequence in FASTA format.
func (seq Sequence) String() (s string) {
	s = ">" + seq.Name + "\n" + Wrap(seq.Sequence, 80)
	return
}

// String returns sequences in FASTA format.
func (seqs Sequences) String() (s string) {
	if len(seqs) == 0 {
		return ""
	}
	for _, seq := range seqs {
		s += seq.String()
	}
	return s[:len(s)-1]
}
