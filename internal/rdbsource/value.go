package rdbsource

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"
)

// jonesTable is Redis's CRC-64 variant ("Jones", reflected, poly
// 0xad93d23594c935a9, init 0), used to checksum assembled DUMP
// payloads exactly as RESTORE expects. crc64.MakeTable takes the
// bit-reversed form of the polynomial.
var jonesTable = crc64.MakeTable(0x95ac9329ac4bc9b5)

// redisCRC64 computes Redis's CRC-64 (init 0, no final xor) over p.
// crc64.Update inverts the value on entry and exit, so both inversions
// are undone here.
func redisCRC64(p []byte) uint64 {
	return ^crc64.Update(^uint64(0), jonesTable, p)
}

// skipValue walks t's on-wire structure, capturing every byte of it
// (the caller must have called cr.startCapture() first) without
// materializing element contents. Only the container shapes named in
// supportedType are handled; callers must check supportedType before
// calling this.
func skipValue(cr *capReader, t byte) error {
	switch t {
	case typeString,
		typeListZiplist, typeSetIntset, typeZSetZiplist, typeHashZiplist,
		typeHashZiplistEx, typeZSetListpack, typeHashListpack, typeSetListpack:
		// A single opaque length-prefixed blob (old plain string, or a
		// ziplist/intset/listpack whose internal layout we never need
		// to understand since it is forwarded verbatim).
		return skipRawString(cr)

	case typeList, typeSet:
		n, _, err := readLength(cr)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := skipRawString(cr); err != nil {
				return err
			}
		}
		return nil

	case typeHash:
		n, _, err := readLength(cr)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n*2; i++ {
			if err := skipRawString(cr); err != nil {
				return err
			}
		}
		return nil

	case typeZSet:
		n, _, err := readLength(cr)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := skipRawString(cr); err != nil { // member
				return err
			}
			if err := skipOldDouble(cr); err != nil { // score
				return err
			}
		}
		return nil

	case typeZSet2:
		n, _, err := readLength(cr)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := skipRawString(cr); err != nil { // member
				return err
			}
			if _, err := cr.readN(8); err != nil { // binary double
				return err
			}
		}
		return nil

	case typeListQuicklist:
		n, _, err := readLength(cr)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := skipRawString(cr); err != nil { // ziplist node
				return err
			}
		}
		return nil

	case typeListQuicklist2:
		n, _, err := readLength(cr)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if _, _, err := readLength(cr); err != nil { // container type
				return err
			}
			if err := skipRawString(cr); err != nil { // node payload
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("rdbsource: unsupported value type %d", t)
	}
}

// assembleDump builds a RESTORE-compatible DUMP payload: the type byte,
// the value's raw on-wire bytes, a little-endian RDB version, and the
// Redis CRC-64 checksum over everything preceding it.
func assembleDump(t byte, raw []byte, rdbVersion int) []byte {
	out := make([]byte, 0, 1+len(raw)+2+8)
	out = append(out, t)
	out = append(out, raw...)
	var ver [2]byte
	binary.LittleEndian.PutUint16(ver[:], uint16(rdbVersion))
	out = append(out, ver[:]...)
	sum := redisCRC64(out)
	var crc [8]byte
	binary.LittleEndian.PutUint64(crc[:], sum)
	return append(out, crc[:]...)
}
