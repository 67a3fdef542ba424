// Package seqsrc defines the SequenceSource boundary the index builder and
// the stage-3 aligner consume, and provides a thin FASTA-backed reference
// implementation. FASTA parsing itself is explicitly out of the core's
// scope; this package is the glue a real deployment plugs in.
package seqsrc

import (
	"io"
	"os"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/pkg/errors"

	"github.com/astanabe/ikafssn-sub000/kmer"
)

// Record is one reference sequence as the builder and aligner need it:
// the base byte stream, its sorted ambiguity runs, and its accession.
type Record struct {
	Bases     []byte
	Ambiguity []kmer.AmbiguityRun
	Accession string
}

// SequenceSource yields reference sequences by dense oid, the opaque
// collaborator the index builder and stage-3 aligner are specified
// against.
type SequenceSource interface {
	NumSequences() int
	Sequence(oid int) (Record, error)
}

// FastaSource is an in-memory SequenceSource backed by a FASTA file, read
// once at construction via biogo's reader the way the teacher's
// CoarseDB.readFasta does.
type FastaSource struct {
	records []Record
}

// LoadFasta reads every record from path into memory, computing ambiguity
// runs for any IUPAC codes found in each sequence.
func LoadFasta(path string) (*FastaSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "seqsrc: open %s", path)
	}
	defer f.Close()
	return readFasta(f)
}

func readFasta(r io.Reader) (*FastaSource, error) {
	template := linear.NewSeq("", nil, alphabet.DNA)
	reader := fasta.NewReader(r, template)

	fs := &FastaSource{}
	for {
		s, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "seqsrc: read fasta record")
		}
		seq, ok := s.(*linear.Seq)
		if !ok {
			return nil, errors.New("seqsrc: unexpected sequence type from fasta reader")
		}
		bases := make([]byte, len(seq.Seq))
		for i, l := range seq.Seq {
			bases[i] = byte(l)
		}
		fs.records = append(fs.records, Record{
			Bases:     bases,
			Ambiguity: kmer.FindAmbiguityRuns(bases),
			Accession: seq.Name(),
		})
	}
	return fs, nil
}

// NumSequences returns the dense oid space size.
func (fs *FastaSource) NumSequences() int { return len(fs.records) }

// Sequence returns the oid'th record.
func (fs *FastaSource) Sequence(oid int) (Record, error) {
	if oid < 0 || oid >= len(fs.records) {
		return Record{}, errors.Errorf("seqsrc: oid %d out of range [0,%d)", oid, len(fs.records))
	}
	return fs.records[oid], nil
}
