package pipeline

import (
	"encoding/json"
	"fmt"

	"emotrack-go/internal/crypto"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
	"emotrack-go/internal/types"
)

// Sealer moves analysis payloads and transcripts between their plaintext
// and encrypted columns. A nil cipher stores everything in plaintext.
type Sealer struct {
	cipher crypto.Cipher
	log    *logger.Logger
}

func NewSealer(cipher crypto.Cipher, log *logger.Logger) *Sealer {
	return &Sealer{cipher: cipher, log: log.Component("sealer")}
}

// SealAnalysis stores a on rec. Encryption failures fall back to plaintext
// so the analysis is never lost.
func (s *Sealer) SealAnalysis(rec *types.ResponseRecord, a *types.AnalysisResult) {
	rec.Analysis, rec.AnalysisEnc = nil, nil
	if a == nil {
		return
	}
	plain := a.Clone()
	if s.cipher == nil {
		rec.Analysis = &plain
		return
	}
	raw, err := json.Marshal(plain)
	if err == nil {
		rec.AnalysisEnc, err = s.cipher.Encrypt(raw)
	}
	if err != nil {
		s.degraded(rec.ID, "analysis", err)
		rec.AnalysisEnc = nil
		rec.Analysis = &plain
	}
}

// SealTranscript stores t on rec with the same fallback as SealAnalysis.
func (s *Sealer) SealTranscript(rec *types.ResponseRecord, t *string) {
	rec.Transcript, rec.TranscriptEnc = nil, nil
	if t == nil {
		return
	}
	v := *t
	if s.cipher == nil {
		rec.Transcript = &v
		return
	}
	blob, err := s.cipher.Encrypt([]byte(v))
	if err != nil {
		s.degraded(rec.ID, "transcript", err)
		rec.Transcript = &v
		return
	}
	rec.TranscriptEnc = blob
}

// OpenAnalysis returns the stored analysis, decrypting when needed.
func (s *Sealer) OpenAnalysis(rec *types.ResponseRecord) (*types.AnalysisResult, error) {
	if rec.Analysis != nil {
		a := rec.Analysis.Clone()
		return &a, nil
	}
	if len(rec.AnalysisEnc) == 0 {
		return nil, nil
	}
	raw, err := s.open(rec.AnalysisEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt analysis of response %d: %w", rec.ID, err)
	}
	var a types.AnalysisResult
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode analysis of response %d: %w", rec.ID, err)
	}
	return &a, nil
}

// OpenTranscript returns the stored transcript, decrypting when needed.
func (s *Sealer) OpenTranscript(rec *types.ResponseRecord) (*string, error) {
	if rec.Transcript != nil {
		v := *rec.Transcript
		return &v, nil
	}
	if len(rec.TranscriptEnc) == 0 {
		return nil, nil
	}
	raw, err := s.open(rec.TranscriptEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt transcript of response %d: %w", rec.ID, err)
	}
	v := string(raw)
	return &v, nil
}

func (s *Sealer) open(blob []byte) ([]byte, error) {
	if s.cipher == nil {
		if crypto.IsSealed(blob) {
			return nil, fmt.Errorf("payload is encrypted but no key is configured")
		}
		return blob, nil
	}
	return s.cipher.Decrypt(blob)
}

func (s *Sealer) degraded(responseID int64, field string, err error) {
	s.log.WithError(err).
		WithField("response_id", responseID).
		WithField("field", field).
		WithField("reason", "encrypt_failed").
		Warn("encryption failed, storing plaintext")
	metrics.RecordDegraded("encrypt", field)
}
