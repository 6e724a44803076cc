package main

import (
	"github.com/vkngwrapper/dynstruct"
	"github.com/vkngwrapper/dynstruct/dynarg"
)

// sizedRecord declares no tail, but the composite below carries a sequence tail
type sizedRecord struct {
	dynstruct.Sized
	Flag bool
	N    uint16
}

func main() {
	s := dynstruct.New(uint32(1), dynarg.Slice([]uint64{1, 2, 3}))
	owned := dynstruct.Transmute[sizedRecord](s)
	owned.Free()
}
