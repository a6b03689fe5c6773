package client

import (
	"context"
	"testing"

	"github.com/julianpistorius/jsvcgen/codec"
	"github.com/julianpistorius/jsvcgen/transport"
)

func BenchmarkEncode(b *testing.B) {
	s := New(&fakeDispatcher{}, WithSequence(&Sequence{}))
	req := &getAccountRequest{AccountID: 1}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := s.Encode("GetAccountByID", req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	response := []byte(`{"id":1,"result":{"account":{"accountID":1,"username":"admin","volumes":[1,2,3],"attributes":{"k":"v"}}}}`)
	for name, ct := range map[string]codec.CodecType{"json": codec.CodecTypeJSON, "sonic": codec.CodecTypeSonic} {
		s := New(&fakeDispatcher{}, WithCodec(codec.GetCodec(ct)))
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				var result getAccountResult
				if err := s.Decode(response, &result); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkFramedCall(b *testing.B) {
	_, addr := startArith(b, nil)

	d := transport.NewFramedDispatcher(addr, "9.0")
	defer d.Close()
	s := New(d)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := Send[Reply](context.Background(), s, "Add", &Args{A: 1, B: 2}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
