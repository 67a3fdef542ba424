package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// SeqidlistMode mirrors the OID filter's admission mode over the wire.
type SeqidlistMode uint8

const (
	SeqidlistNone    SeqidlistMode = 0
	SeqidlistInclude SeqidlistMode = 1
	SeqidlistExclude SeqidlistMode = 2
)

// QueryEntry is one query in a search request: a caller-supplied id and the
// raw base string.
type QueryEntry struct {
	QueryID  string
	Sequence string
}

// SearchRequest is the decoded form of a 0x01 search-request payload. Every
// numeric field corresponds 1:1 to a SearchConfig option (see §6); fixed
	// fraction fields are transmitted as an integer times 10000 so the wire
// format stays float-free.
type SearchRequest struct {
	K                int32
	Mode             uint8
	Stage1ScoreType  uint8
	Stage1TopN       uint32
	MinStage1Score   int32
	MinStage1ScoreFracX10000 uint32
	MaxFreq                  uint32
	MaxFreqFracX10000        uint32
	Stage2MinScore            int32
	Stage2MaxGap              uint32
	Stage2MaxLookback         uint32
	Stage2MinDiagHits         uint32
	NumResults                uint32
	Strand                    int8
	AcceptQDegen              uint8
	SortScore                 uint8

	GapOpen            int32
	GapExt             int32
	Traceback          uint8
	MinPidentX10000    uint32
	MinNident          uint32
	ContextIsRatio     uint8
	ContextRatioX10000 uint32
	ContextAbs         uint32
	FetchThreads       uint32

	SeqidlistMode SeqidlistMode
	DBName        string
	Accessions    []string
	Queries       []QueryEntry
}

func putU16String(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return errors.Errorf("protocol: string of %d bytes exceeds u16 length prefix", len(s))
	}
	var lbuf [2]byte
	binary.LittleEndian.PutUint16(lbuf[:], uint16(len(s)))
	buf.Write(lbuf[:])
	buf.WriteString(s)
	return nil
}

func getU16String(r *bytes.Reader) (string, error) {
	var lbuf [2]byte
	if _, err := readFullReader(r, lbuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(lbuf[:])
	s := make([]byte, n)
	if _, err := readFullReader(r, s); err != nil {
		return "", err
	}
	return string(s), nil
}

func readFullReader(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// EncodeSearchRequest serializes req into a search-request payload.
func EncodeSearchRequest(req *SearchRequest) ([]byte, error) {
	var buf bytes.Buffer

	fields := []interface{}{
		req.K, req.Mode, req.Stage1ScoreType, req.Stage1TopN, req.MinStage1Score,
		req.MinStage1ScoreFracX10000, req.MaxFreq, req.MaxFreqFracX10000,
		req.Stage2MinScore, req.Stage2MaxGap, req.Stage2MaxLookback, req.Stage2MinDiagHits,
		req.NumResults, req.Strand, req.AcceptQDegen, req.SortScore,
		req.GapOpen, req.GapExt, req.Traceback, req.MinPidentX10000, req.MinNident,
		req.ContextIsRatio, req.ContextRatioX10000, req.ContextAbs, req.FetchThreads,
		uint8(req.SeqidlistMode),
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, errors.Wrap(err, "protocol: encode search request fixed fields")
		}
	}

	if err := putU16String(&buf, req.DBName); err != nil {
		return nil, err
	}

	if len(req.Accessions) > 0xFFFF {
		return nil, errors.Errorf("protocol: %d accessions exceeds u16 count", len(req.Accessions))
	}
	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(len(req.Accessions)))
	buf.Write(u16[:])
	for _, a := range req.Accessions {
		if err := putU16String(&buf, a); err != nil {
			return nil, err
		}
	}

	if len(req.Queries) > 0xFFFF {
		return nil, errors.Errorf("protocol: %d queries exceeds u16 count", len(req.Queries))
	}
	binary.LittleEndian.PutUint16(u16[:], uint16(len(req.Queries)))
	buf.Write(u16[:])
	for _, q := range req.Queries {
		if err := putU16String(&buf, q.QueryID); err != nil {
			return nil, err
		}
		if err := putU16String(&buf, q.Sequence); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DecodeSearchRequest parses a search-request payload. Trailing bytes past
// the last recognized field are tolerated, for forward-compatible
// extensions.
func DecodeSearchRequest(payload []byte) (*SearchRequest, error) {
	r := bytes.NewReader(payload)
	req := &SearchRequest{}

	fields := []interface{}{
		&req.K, &req.Mode, &req.Stage1ScoreType, &req.Stage1TopN, &req.MinStage1Score,
		&req.MinStage1ScoreFracX10000, &req.MaxFreq, &req.MaxFreqFracX10000,
		&req.Stage2MinScore, &req.Stage2MaxGap, &req.Stage2MaxLookback, &req.Stage2MinDiagHits,
		&req.NumResults, &req.Strand, &req.AcceptQDegen, &req.SortScore,
		&req.GapOpen, &req.GapExt, &req.Traceback, &req.MinPidentX10000, &req.MinNident,
		&req.ContextIsRatio, &req.ContextRatioX10000, &req.ContextAbs, &req.FetchThreads,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, errors.Wrap(err, "protocol: decode search request fixed fields")
		}
	}
	var modeByte uint8
	if err := binary.Read(r, binary.LittleEndian, &modeByte); err != nil {
		return nil, errors.Wrap(err, "protocol: decode seqidlist_mode")
	}
	req.SeqidlistMode = SeqidlistMode(modeByte)

	var err error
	req.DBName, err = getU16String(r)
	if err != nil {
		return nil, errors.Wrap(err, "protocol: decode db_name")
	}

	var u16 [2]byte
	if _, err := readFullReader(r, u16[:]); err != nil {
		return nil, errors.Wrap(err, "protocol: decode accession count")
	}
	nAcc := binary.LittleEndian.Uint16(u16[:])
	req.Accessions = make([]string, nAcc)
	for i := range req.Accessions {
		req.Accessions[i], err = getU16String(r)
		if err != nil {
			return nil, errors.Wrap(err, "protocol: decode accession")
		}
	}

	if _, err := readFullReader(r, u16[:]); err != nil {
		return nil, errors.Wrap(err, "protocol: decode query count")
	}
	nQ := binary.LittleEndian.Uint16(u16[:])
	req.Queries = make([]QueryEntry, nQ)
	for i := range req.Queries {
		qid, err := getU16String(r)
		if err != nil {
			return nil, errors.Wrap(err, "protocol: decode query_id")
		}
		seq, err := getU16String(r)
		if err != nil {
			return nil, errors.Wrap(err, "protocol: decode sequence")
		}
		req.Queries[i] = QueryEntry{QueryID: qid, Sequence: seq}
	}

	return req, nil
}

// QueryWarning flags a non-fatal condition noticed while answering one
// query.
type QueryWarning uint8

const (
	WarnMultiDegen QueryWarning = 0x01
)

// ResponseHit is one reported hit in a search response.
type ResponseHit struct {
	Accession   string
	Strand      int8
	QStart      uint32
	QEnd        uint32
	SStart      uint32
	SEnd        uint32
	ChainScore  uint16
	Stage1Score uint16
	Volume      uint16
}

// QueryResult bundles every hit found for one query plus any warnings.
type QueryResult struct {
	QueryID  string
	Hits     []ResponseHit
	Skipped  bool
	Warnings QueryWarning
}

// SearchResponse is the decoded form of a 0x81 search-response payload.
type SearchResponse struct {
	Status           uint8
	K                uint8
	Mode             uint8
	Stage1ScoreType  uint8
	Results          []QueryResult
	RejectedQueryIDs []string
}

// EncodeSearchResponse serializes resp into a search-response payload.
func EncodeSearchResponse(resp *SearchResponse) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(resp.Status)
	buf.WriteByte(resp.K)
	buf.WriteByte(resp.Mode)
	buf.WriteByte(resp.Stage1ScoreType)

	if len(resp.Results) > 0xFFFF {
		return nil, errors.Errorf("protocol: %d query results exceeds u16 count", len(resp.Results))
	}
	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(len(resp.Results)))
	buf.Write(u16[:])

	for _, qr := range resp.Results {
		if err := putU16String(&buf, qr.QueryID); err != nil {
			return nil, err
		}
		if len(qr.Hits) > 0xFFFF {
			return nil, errors.Errorf("protocol: %d hits exceeds u16 count", len(qr.Hits))
		}
		binary.LittleEndian.PutUint16(u16[:], uint16(len(qr.Hits)))
		buf.Write(u16[:])
		for _, h := range qr.Hits {
			if err := putU16String(&buf, h.Accession); err != nil {
				return nil, err
			}
			hitFields := []interface{}{
				h.Strand, h.QStart, h.QEnd, h.SStart, h.SEnd,
				h.ChainScore, h.Stage1Score, h.Volume,
			}
			for _, f := range hitFields {
				if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
					return nil, errors.Wrap(err, "protocol: encode hit")
				}
			}
		}
	}

	if len(resp.RejectedQueryIDs) > 0xFFFF {
		return nil, errors.Errorf("protocol: %d rejected ids exceeds u16 count", len(resp.RejectedQueryIDs))
	}
	binary.LittleEndian.PutUint16(u16[:], uint16(len(resp.RejectedQueryIDs)))
	buf.Write(u16[:])
	for _, id := range resp.RejectedQueryIDs {
		if err := putU16String(&buf, id); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DecodeSearchResponse parses a search-response payload. Trailing bytes
// are tolerated for forward-compatible extension fields.
func DecodeSearchResponse(payload []byte) (*SearchResponse, error) {
	r := bytes.NewReader(payload)
	resp := &SearchResponse{}

	var hdr [4]byte
	if _, err := readFullReader(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "protocol: decode search response header")
	}
	resp.Status, resp.K, resp.Mode, resp.Stage1ScoreType = hdr[0], hdr[1], hdr[2], hdr[3]

	var u16 [2]byte
	if _, err := readFullReader(r, u16[:]); err != nil {
		return nil, errors.Wrap(err, "protocol: decode result count")
	}
	nResults := binary.LittleEndian.Uint16(u16[:])
	resp.Results = make([]QueryResult, nResults)
	for i := range resp.Results {
		qid, err := getU16String(r)
		if err != nil {
			return nil, errors.Wrap(err, "protocol: decode query_id")
		}
		if _, err := readFullReader(r, u16[:]); err != nil {
			return nil, errors.Wrap(err, "protocol: decode hit count")
		}
		nHits := binary.LittleEndian.Uint16(u16[:])
		hits := make([]ResponseHit, nHits)
		for j := range hits {
			acc, err := getU16String(r)
			if err != nil {
				return nil, errors.Wrap(err, "protocol: decode hit accession")
			}
			h := ResponseHit{Accession: acc}
			hitFields := []interface{}{
				&h.Strand, &h.QStart, &h.QEnd, &h.SStart, &h.SEnd,
				&h.ChainScore, &h.Stage1Score, &h.Volume,
			}
			for _, f := range hitFields {
				if err := binary.Read(r, binary.LittleEndian, f); err != nil {
					return nil, errors.Wrap(err, "protocol: decode hit")
				}
			}
			hits[j] = h
		}
		resp.Results[i] = QueryResult{QueryID: qid, Hits: hits}
	}

	if _, err := readFullReader(r, u16[:]); err != nil {
		// Tolerate absence of the trailing rejected-ids section for
		// forward/backward compatibility with shorter payloads.
		return resp, nil
	}
	nRejected := binary.LittleEndian.Uint16(u16[:])
	resp.RejectedQueryIDs = make([]string, nRejected)
	for i := range resp.RejectedQueryIDs {
		id, err := getU16String(r)
		if err != nil {
			return resp, nil
		}
		resp.RejectedQueryIDs[i] = id
	}

	return resp, nil
}
