package payment

// PinLength is the number of digits in a transaction PIN.
const PinLength = 5

// pinBuffer is a fixed-length, digits-only, left-to-right entry buffer.
type pinBuffer struct {
	digits [PinLength]byte
	n      int
}

// set replaces the buffer with the digits of s, dropping everything else
// and ignoring digits past PinLength.
func (b *pinBuffer) set(s string) {
	b.reset()
	for i := 0; i < len(s); i++ {
		b.push(s[i])
	}
}

func (b *pinBuffer) push(c byte) bool {
	if c < '0' || c > '9' || b.n == PinLength {
		return false
	}
	b.digits[b.n] = c
	b.n++
	return true
}

func (b *pinBuffer) pop() bool {
	if b.n == 0 {
		return false
	}
	b.n--
	b.digits[b.n] = 0
	return true
}

func (b *pinBuffer) reset() {
	b.digits = [PinLength]byte{}
	b.n = 0
}

func (b *pinBuffer) complete() bool { return b.n == PinLength }

func (b *pinBuffer) len() int { return b.n }

func (b *pinBuffer) String() string { return string(b.digits[:b.n]) }

// ValidPin reports whether pin is exactly PinLength ASCII digits.
func ValidPin(pin string) bool {
	if len(pin) != PinLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
