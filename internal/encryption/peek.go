package encryption

import (
	"bufio"
	"io"
)

func bufferedPeek(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

func hasArmorHeader(br *bufio.Reader) bool {
	const header = "-----BEGIN AGE ENCRYPTED FILE-----"
	head, _ := br.Peek(len(header))
	return string(head) == header
}
