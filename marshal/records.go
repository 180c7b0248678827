package marshal

import (
	gridlink "github.com/voltmesh/gridlink"
)

// Record sizes of the packed result arrays the engine returns.
const (
	ComponentResultSize        = 40
	LimitViolationSize         = 32
	PostContingencyResultSize  = 16
	OperatorStrategyResultSize = 16
)

// ComponentResult is one record of a load flow result array: the
// convergence outcome for one connected component of the network.
type ComponentResult struct {
	ConnectedComponentNum       int32
	SynchronousComponentNum     int32
	Status                      int32
	IterationCount              int32
	SlackBusID                  string
	ReferenceBusID              string
	SlackBusActivePowerMismatch float64
	DistributedActivePower      float64
}

// ReadComponentResult decodes the record at ptr.
func ReadComponentResult(mem gridlink.Memory, ptr uint32) (ComponentResult, error) {
	var r ComponentResult
	fields := []struct {
		off uint32
		dst *int32
	}{
		{0, &r.ConnectedComponentNum},
		{4, &r.SynchronousComponentNum},
		{8, &r.Status},
		{12, &r.IterationCount},
	}
	for _, f := range fields {
		v, err := mem.ReadU32(ptr + f.off)
		if err != nil {
			return r, err
		}
		*f.dst = int32(v)
	}
	var err error
	if r.SlackBusID, err = readStringField(mem, ptr+16); err != nil {
		return r, err
	}
	if r.ReferenceBusID, err = readStringField(mem, ptr+20); err != nil {
		return r, err
	}
	if r.SlackBusActivePowerMismatch, err = mem.ReadF64(ptr + 24); err != nil {
		return r, err
	}
	r.DistributedActivePower, err = mem.ReadF64(ptr + 32)
	return r, err
}

// StoreComponentResult encodes the record at ptr, allocating its string
// members through alloc.
func StoreComponentResult(mem gridlink.Memory, alloc Alloc, ptr uint32, r ComponentResult) error {
	fields := []struct {
		off uint32
		val int32
	}{
		{0, r.ConnectedComponentNum},
		{4, r.SynchronousComponentNum},
		{8, r.Status},
		{12, r.IterationCount},
	}
	for _, f := range fields {
		if err := mem.WriteU32(ptr+f.off, uint32(f.val)); err != nil {
			return err
		}
	}
	if err := storeStringField(mem, alloc, ptr+16, r.SlackBusID); err != nil {
		return err
	}
	if err := storeStringField(mem, alloc, ptr+20, r.ReferenceBusID); err != nil {
		return err
	}
	if err := mem.WriteF64(ptr+24, r.SlackBusActivePowerMismatch); err != nil {
		return err
	}
	return mem.WriteF64(ptr+32, r.DistributedActivePower)
}

// LimitViolation is one record of a violation sub-array. The sub-array
// is embedded storage of its parent result array and is freed with it.
type LimitViolation struct {
	SubjectID          string
	LimitType          int32
	Limit              float64
	Value              float64
	AcceptableDuration int32
}

// ReadLimitViolation decodes the record at ptr.
func ReadLimitViolation(mem gridlink.Memory, ptr uint32) (LimitViolation, error) {
	var r LimitViolation
	var err error
	if r.SubjectID, err = readStringField(mem, ptr); err != nil {
		return r, err
	}
	lt, err := mem.ReadU32(ptr + 4)
	if err != nil {
		return r, err
	}
	r.LimitType = int32(lt)
	if r.Limit, err = mem.ReadF64(ptr + 8); err != nil {
		return r, err
	}
	if r.Value, err = mem.ReadF64(ptr + 16); err != nil {
		return r, err
	}
	ad, err := mem.ReadU32(ptr + 24)
	r.AcceptableDuration = int32(ad)
	return r, err
}

// StoreLimitViolation encodes the record at ptr.
func StoreLimitViolation(mem gridlink.Memory, alloc Alloc, ptr uint32, r LimitViolation) error {
	if err := storeStringField(mem, alloc, ptr, r.SubjectID); err != nil {
		return err
	}
	if err := mem.WriteU32(ptr+4, uint32(r.LimitType)); err != nil {
		return err
	}
	if err := mem.WriteF64(ptr+8, r.Limit); err != nil {
		return err
	}
	if err := mem.WriteF64(ptr+16, r.Value); err != nil {
		return err
	}
	return mem.WriteU32(ptr+24, uint32(r.AcceptableDuration))
}

// PostContingencyResult is one record of a security analysis result
// array: the violations found after applying one contingency.
type PostContingencyResult struct {
	ContingencyID string
	Status        int32
	Violations    []LimitViolation
}

// ReadPostContingencyResult decodes the record at ptr, copying the
// embedded violation sub-array.
func ReadPostContingencyResult(mem gridlink.Memory, ptr uint32) (PostContingencyResult, error) {
	var r PostContingencyResult
	var err error
	if r.ContingencyID, err = readStringField(mem, ptr); err != nil {
		return r, err
	}
	st, err := mem.ReadU32(ptr + 4)
	if err != nil {
		return r, err
	}
	r.Status = int32(st)
	r.Violations, err = readViolations(mem, ptr+8)
	return r, err
}

// StorePostContingencyResult encodes the record at ptr, allocating the
// violation sub-array through alloc.
func StorePostContingencyResult(mem gridlink.Memory, alloc Alloc, ptr uint32, r PostContingencyResult) error {
	if err := storeStringField(mem, alloc, ptr, r.ContingencyID); err != nil {
		return err
	}
	if err := mem.WriteU32(ptr+4, uint32(r.Status)); err != nil {
		return err
	}
	return storeViolations(mem, alloc, ptr+8, r.Violations)
}

// OperatorStrategyResult is one record of an operator strategy result
// array, same shape as a post-contingency record.
type OperatorStrategyResult struct {
	OperatorStrategyID string
	Status             int32
	Violations         []LimitViolation
}

// ReadOperatorStrategyResult decodes the record at ptr.
func ReadOperatorStrategyResult(mem gridlink.Memory, ptr uint32) (OperatorStrategyResult, error) {
	var r OperatorStrategyResult
	var err error
	if r.OperatorStrategyID, err = readStringField(mem, ptr); err != nil {
		return r, err
	}
	st, err := mem.ReadU32(ptr + 4)
	if err != nil {
		return r, err
	}
	r.Status = int32(st)
	r.Violations, err = readViolations(mem, ptr+8)
	return r, err
}

// StoreOperatorStrategyResult encodes the record at ptr.
func StoreOperatorStrategyResult(mem gridlink.Memory, alloc Alloc, ptr uint32, r OperatorStrategyResult) error {
	if err := storeStringField(mem, alloc, ptr, r.OperatorStrategyID); err != nil {
		return err
	}
	if err := mem.WriteU32(ptr+4, uint32(r.Status)); err != nil {
		return err
	}
	return storeViolations(mem, alloc, ptr+8, r.Violations)
}

func readViolations(mem gridlink.Memory, hdr uint32) ([]LimitViolation, error) {
	h, err := ReadArrayHeader(mem, hdr)
	if err != nil {
		return nil, err
	}
	out := make([]LimitViolation, 0, h.Len)
	for i := int32(0); i < h.Len; i++ {
		v, err := ReadLimitViolation(mem, h.Ptr+uint32(i)*LimitViolationSize)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func storeViolations(mem gridlink.Memory, alloc Alloc, hdr uint32, violations []LimitViolation) error {
	var ptr uint32
	if len(violations) > 0 {
		var err error
		ptr, err = alloc(uint32(len(violations)) * LimitViolationSize)
		if err != nil {
			return err
		}
		for i, v := range violations {
			if err := StoreLimitViolation(mem, alloc, ptr+uint32(i)*LimitViolationSize, v); err != nil {
				return err
			}
		}
	}
	return WriteArrayHeader(mem, hdr, ArrayHeader{Ptr: ptr, Len: int32(len(violations))})
}

func readStringField(mem gridlink.Memory, off uint32) (string, error) {
	ptr, err := mem.ReadU32(off)
	if err != nil {
		return "", err
	}
	return ReadCString(mem, ptr)
}

func storeStringField(mem gridlink.Memory, alloc Alloc, off uint32, s string) error {
	ptr, err := WriteCString(mem, alloc, s)
	if err != nil {
		return err
	}
	return mem.WriteU32(off, ptr)
}
