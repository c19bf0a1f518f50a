package pool

import "testing"

func TestGetRowIsEmpty(t *testing.T) {
	m := GetRow()
	m["id"] = int64(1)
	PutRow(m)

	again := GetRow()
	if len(again) != 0 {
		t.Errorf("expected empty row map, got %v", again)
	}
}

func TestGetArgsIsEmpty(t *testing.T) {
	s := GetArgs()
	*s = append(*s, "a", int64(2))
	PutArgs(s)

	again := GetArgs()
	if len(*again) != 0 {
		t.Errorf("expected empty args, got %v", *again)
	}
	PutArgs(again)
}

func TestPutNilIsNoop(t *testing.T) {
	PutRow(nil)
	PutArgs(nil)
}
