// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/trendwire/core"
)

// codecVersion prefixes every serialized record.
const codecVersion uint64 = 1

var zeroTimeMicro = time.Time{}.UnixMicro()

// encoder appends MUS-encoded fields to a growing buffer.
type encoder struct {
	buf []byte
	off int
}

func newEncoder(hint int) *encoder {
	e := &encoder{buf: make([]byte, 0, hint)}
	e.buf = e.buf[:cap(e.buf)]
	e.uint64(codecVersion)
	return e
}

func (e *encoder) grow(n int) {
	if len(e.buf)-e.off >= n {
		return
	}
	nb := make([]byte, max(2*len(e.buf), e.off+n))
	copy(nb, e.buf[:e.off])
	e.buf = nb
}

func (e *encoder) uint64(v uint64) {
	e.grow(varint.Uint64.Size(v))
	e.off += varint.Uint64.Marshal(v, e.buf[e.off:])
}

func (e *encoder) int64(v int64) {
	e.grow(varint.Int64.Size(v))
	e.off += varint.Int64.Marshal(v, e.buf[e.off:])
}

func (e *encoder) string(v string) {
	e.grow(ord.String.Size(v))
	e.off += ord.String.Marshal(v, e.buf[e.off:])
}

func (e *encoder) bool(v bool) {
	e.grow(ord.Bool.Size(v))
	e.off += ord.Bool.Marshal(v, e.buf[e.off:])
}

func (e *encoder) time(t time.Time) {
	if t.IsZero() {
		e.int64(zeroTimeMicro)
		return
	}
	e.int64(t.UnixMicro())
}

func (e *encoder) strings(vs []string) {
	e.uint64(uint64(len(vs)))
	for _, v := range vs {
		e.string(v)
	}
}

func (e *encoder) vector(vs []float32) {
	e.uint64(uint64(len(vs)))
	for _, v := range vs {
		e.uint64(uint64(math.Float32bits(v)))
	}
}

func (e *encoder) bytes() []byte {
	return e.buf[:e.off]
}

// decoder reads fields written by encoder. The first error sticks.
type decoder struct {
	bs  []byte
	off int
	err error
}

func newDecoder(data []byte) *decoder {
	d := &decoder{bs: data}
	if v := d.uint64(); d.err == nil && v != codecVersion {
		d.err = fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return d
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func (d *decoder) ready() bool {
	if d.err != nil {
		return false
	}
	if d.off >= len(d.bs) {
		d.fail(ErrTruncatedData)
		return false
	}
	return true
}

func (d *decoder) uint64() uint64 {
	if !d.ready() {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs[d.off:])
	if err != nil {
		d.fail(err)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) int64() int64 {
	if !d.ready() {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs[d.off:])
	if err != nil {
		d.fail(err)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) string() string {
	if !d.ready() {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.off:])
	if err != nil {
		d.fail(err)
		return ""
	}
	d.off += n
	return v
}

func (d *decoder) bool() bool {
	if !d.ready() {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.bs[d.off:])
	if err != nil {
		d.fail(err)
		return false
	}
	d.off += n
	return v
}

func (d *decoder) time() time.Time {
	v := d.int64()
	if d.err != nil || v == zeroTimeMicro {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// length reads a collection length and rejects values the remaining input cannot hold.
func (d *decoder) length() int {
	n := d.uint64()
	if d.err != nil {
		return 0
	}
	if n > uint64(len(d.bs)-d.off) {
		d.fail(ErrTruncatedData)
		return 0
	}
	return int(n)
}

func (d *decoder) strings() []string {
	n := d.length()
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.string())
	}
	return out
}

func (d *decoder) vector() []float32 {
	n := d.length()
	if n == 0 {
		return nil
	}
	out := make([]float32, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, math.Float32frombits(uint32(d.uint64())))
	}
	return out
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	e := newEncoder(64 + len(doc.RawText) + len(doc.NormalizedText))
	e.string(string(doc.Fingerprint))
	e.int64(int64(doc.SourceType))
	e.string(doc.SourceRef)
	e.string(doc.ItemRef)
	e.string(doc.Title)
	e.string(doc.RawText)
	e.string(doc.NormalizedText)
	e.time(doc.PublishedAt)
	e.string(doc.Category)
	e.time(doc.IngestedAt)
	return e.bytes()
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	d := newDecoder(data)
	doc := &core.Document{
		Fingerprint:    core.Fingerprint(d.string()),
		SourceType:     core.SourceType(d.int64()),
		SourceRef:      d.string(),
		ItemRef:        d.string(),
		Title:          d.string(),
		RawText:        d.string(),
		NormalizedText: d.string(),
		PublishedAt:    d.time(),
		Category:       d.string(),
		IngestedAt:     d.time(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return doc, nil
}

// MarshalEmbedding serializes an EmbeddingRecord to bytes.
func MarshalEmbedding(rec *core.EmbeddingRecord) []byte {
	e := newEncoder(48 + 5*len(rec.Vector))
	e.string(string(rec.Fingerprint))
	e.vector(rec.Vector)
	e.string(rec.Metadata.Category)
	e.time(rec.Metadata.PublishedAt)
	e.int64(int64(rec.Metadata.SourceType))
	return e.bytes()
}

// UnmarshalEmbedding deserializes an EmbeddingRecord from bytes.
func UnmarshalEmbedding(data []byte) (*core.EmbeddingRecord, error) {
	d := newDecoder(data)
	rec := &core.EmbeddingRecord{
		Fingerprint: core.Fingerprint(d.string()),
		Vector:      d.vector(),
	}
	rec.Metadata.Category = d.string()
	rec.Metadata.PublishedAt = d.time()
	rec.Metadata.SourceType = core.SourceType(d.int64())
	if d.err != nil {
		return nil, d.err
	}
	return rec, nil
}

// MarshalSubscription serializes a Subscription to bytes.
func MarshalSubscription(sub *core.Subscription) []byte {
	e := newEncoder(64)
	e.string(sub.SubscriberID)
	e.strings(sub.Categories)
	e.int64(int64(sub.Cadence))
	e.time(sub.LastSentAt)
	e.time(sub.CreatedAt)
	e.time(sub.UpdatedAt)
	return e.bytes()
}

// UnmarshalSubscription deserializes a Subscription from bytes.
func UnmarshalSubscription(data []byte) (*core.Subscription, error) {
	d := newDecoder(data)
	sub := &core.Subscription{
		SubscriberID: d.string(),
		Categories:   d.strings(),
		Cadence:      core.Cadence(d.int64()),
		LastSentAt:   d.time(),
		CreatedAt:    d.time(),
		UpdatedAt:    d.time(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return sub, nil
}

// MarshalReport serializes an AnalysisReport to bytes.
func MarshalReport(r *core.AnalysisReport) []byte {
	e := newEncoder(128 + len(r.RawText) + len(r.SummaryText))
	e.string(r.RequestID)
	e.string(r.Scope.Category)
	e.string(r.Scope.Query)
	e.string(r.Headline)
	e.uint64(uint64(len(r.Trends)))
	for _, t := range r.Trends {
		e.string(t.Title)
		e.string(t.Description)
		e.string(t.Importance)
		e.uint64(uint64(len(t.References)))
		for _, ref := range t.References {
			e.int64(int64(ref))
		}
	}
	e.string(r.SummaryText)
	e.string(r.RawText)
	fps := make([]string, len(r.SupportingFingerprints))
	for i, fp := range r.SupportingFingerprints {
		fps[i] = string(fp)
	}
	e.strings(fps)
	e.time(r.GeneratedAt)
	e.string(r.ProviderUsed)
	e.bool(r.Degraded)
	return e.bytes()
}

// UnmarshalReport deserializes an AnalysisReport from bytes.
func UnmarshalReport(data []byte) (*core.AnalysisReport, error) {
	d := newDecoder(data)
	r := &core.AnalysisReport{
		RequestID: d.string(),
		Scope:     core.AnalysisScope{Category: d.string(), Query: d.string()},
		Headline:  d.string(),
	}
	if n := d.length(); n > 0 {
		r.Trends = make([]core.Trend, 0, n)
		for i := 0; i < n && d.err == nil; i++ {
			t := core.Trend{Title: d.string(), Description: d.string(), Importance: d.string()}
			if refs := d.length(); refs > 0 {
				t.References = make([]int, 0, refs)
				for j := 0; j < refs && d.err == nil; j++ {
					t.References = append(t.References, int(d.int64()))
				}
			}
			r.Trends = append(r.Trends, t)
		}
	}
	r.SummaryText = d.string()
	r.RawText = d.string()
	for _, fp := range d.strings() {
		r.SupportingFingerprints = append(r.SupportingFingerprints, core.Fingerprint(fp))
	}
	r.GeneratedAt = d.time()
	r.ProviderUsed = d.string()
	r.Degraded = d.bool()
	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

// MarshalTask serializes a TaskRecord to bytes.
func MarshalTask(t *core.TaskRecord) []byte {
	e := newEncoder(96 + len(t.Payload) + len(t.Result))
	e.string(t.ID)
	e.string(string(t.Class))
	e.string(t.IdempotenceKey)
	e.string(string(t.Status))
	e.int64(int64(t.AttemptCount))
	e.string(string(t.Payload))
	e.string(string(t.Result))
	e.string(t.Error)
	e.time(t.CreatedAt)
	e.time(t.UpdatedAt)
	return e.bytes()
}

// UnmarshalTask deserializes a TaskRecord from bytes.
func UnmarshalTask(data []byte) (*core.TaskRecord, error) {
	d := newDecoder(data)
	t := &core.TaskRecord{
		ID:             d.string(),
		Class:          core.TaskClass(d.string()),
		IdempotenceKey: d.string(),
		Status:         core.TaskStatus(d.string()),
		AttemptCount:   int(d.int64()),
	}
	if p := d.string(); p != "" {
		t.Payload = []byte(p)
	}
	if r := d.string(); r != "" {
		t.Result = []byte(r)
	}
	t.Error = d.string()
	t.CreatedAt = d.time()
	t.UpdatedAt = d.time()
	if d.err != nil {
		return nil, d.err
	}
	return t, nil
}

// Receipt marks one category as delivered to a subscriber for one period.
type Receipt struct {
	IdempotenceKey string
	SentAt         time.Time
}

// MarshalReceipt serializes a Receipt to bytes.
func MarshalReceipt(r *Receipt) []byte {
	e := newEncoder(32 + len(r.IdempotenceKey))
	e.string(r.IdempotenceKey)
	e.time(r.SentAt)
	return e.bytes()
}

// UnmarshalReceipt deserializes a Receipt from bytes.
func UnmarshalReceipt(data []byte) (*Receipt, error) {
	d := newDecoder(data)
	r := &Receipt{IdempotenceKey: d.string(), SentAt: d.time()}
	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}
