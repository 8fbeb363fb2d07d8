package hardware

import "encoding/binary"

// Function codes used by the serializer.
const (
	funcWriteSingleCoil    byte = 0x05
	funcWriteMultipleCoils byte = 0x0F
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// buildWriteSingleCoil constructs the 8-byte frame described in spec
// §4.3: [slave][func=0x05][coil_hi][coil_lo][val_hi][val_lo][crc_lo][crc_hi].
func buildWriteSingleCoil(slave byte, coil uint16, on bool) []byte {
	val := coilOff
	if on {
		val = coilOn
	}
	frame := make([]byte, 6, 8)
	frame[0] = slave
	frame[1] = funcWriteSingleCoil
	binary.BigEndian.PutUint16(frame[2:4], coil)
	binary.BigEndian.PutUint16(frame[4:6], val)
	crc := crc16Modbus(frame)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))
	return frame
}

// buildWriteMultipleCoils constructs a func 0x0F frame for coils, each
// entry true for ON. No caller uses it: the Serializer does not read
// Config.UseMultipleCoils, and pulses and bursts are sent as single-coil
// writes.
func buildWriteMultipleCoils(slave byte, startCoil uint16, coils []bool) []byte {
	n := len(coils)
	byteCount := (n + 7) / 8
	frame := make([]byte, 0, 7+byteCount+2)
	frame = append(frame, slave, funcWriteMultipleCoils)
	frame = appendUint16(frame, startCoil)
	frame = appendUint16(frame, uint16(n))
	frame = append(frame, byte(byteCount))

	packed := make([]byte, byteCount)
	for i, on := range coils {
		if on {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	frame = append(frame, packed...)
	crc := crc16Modbus(frame)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))
	return frame
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// validateResponse checks that resp is a well-formed echo of req (the
// slave's normal ACK for func 0x05/0x0F is to echo the request) and that
// its trailing CRC is correct.
func validateResponse(req, resp []byte) error {
	if len(resp) < 4 {
		return ErrFraming
	}
	body := resp[:len(resp)-2]
	gotCRC := binary.LittleEndian.Uint16(resp[len(resp)-2:])
	if crc16Modbus(body) != gotCRC {
		return ErrCRC
	}
	if resp[1] != req[1] {
		// high bit set on function code signals an exception response
		if resp[1] == req[1]|0x80 {
			return ErrSlaveException
		}
		return ErrFraming
	}
	return nil
}
