package dissect

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/reassembly"
)

// KeyFileError reports that TLS decryption is unavailable, per spec §7.
type KeyFileError struct{ Reason string }

func (e *KeyFileError) Error() string { return "tls key file: " + e.Reason }

const (
	recHandshake    = 22
	recApplication  = 23
	handshakeClient = 1
	handshakeServer = 2
	handshakeCKE    = 16 // ClientKeyExchange
)

// tlsFlowState tracks the RSA handshake for one TCP flow: both hello
// randoms and, once seen, the derived master secret and key block.
type tlsFlowState struct {
	clientRandom [32]byte
	serverRandom [32]byte
	masterSecret []byte
	clientMAC    []byte
	serverMAC    []byte
	clientKey    []byte
	serverKey    []byte
	ready        bool
}

// TLSDissector performs the key-file decryption path from spec §4.1: given
// an RSA private key, it derives the master secret from an observed
// ClientHello/ServerHello/ClientKeyExchange RSA handshake with the TLS 1.2
// PRF (HMAC-SHA256) and decrypts subsequent AES-128-CBC application-data
// records (explicit per-record IV), re-injecting the plaintext into the SIP
// dissector via the flow reassembler. The MD5/SHA-1 PRF of TLS 1.0/1.1 is
// not implemented, so only TLS 1.2 sessions using
// TLS_RSA_WITH_AES_128_CBC_SHA decrypt. There is no public library in the
// retrieval pack for this path (see DESIGN.md); it is built directly on
// crypto/rsa, crypto/x509, crypto/aes and crypto/hmac.
type TLSDissector struct {
	privateKey  *rsa.PrivateKey
	reassembler *reassembly.Reassembler
	flows       map[string]*tlsFlowState
}

// NewTLSDissector loads an RSA private key from a PEM file (empty path
// disables decryption entirely — all TLS packets then drop, per spec §7's
// KeyFileError policy).
func NewTLSDissector(keyFilePath string, r *reassembly.Reassembler) (*TLSDissector, error) {
	d := &TLSDissector{reassembler: r, flows: make(map[string]*tlsFlowState)}
	if keyFilePath == "" {
		return d, nil
	}

	data, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, &KeyFileError{Reason: err.Error()}
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyFileError{Reason: "no PEM block in key file"}
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		if k, err2 := x509.ParsePKCS8PrivateKey(block.Bytes); err2 == nil {
			if rsaKey, ok := k.(*rsa.PrivateKey); ok {
				key = rsaKey
				err = nil
			}
		}
		if err != nil {
			return nil, &KeyFileError{Reason: "not an RSA private key"}
		}
	}
	d.privateKey = key
	return d, nil
}

func (d *TLSDissector) ID() proto.ID { return proto.TLS }

func (d *TLSDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	if d.privateKey == nil {
		return proto.None, nil, fmt.Errorf("%w: no key file configured", ErrDrop)
	}
	if len(payload) < 5 {
		return proto.None, nil, fmt.Errorf("%w: truncated tls record", ErrDrop)
	}

	ipData, _ := pkt.Get(proto.IP)
	ip, _ := ipData.(*packet.IPData)
	tcpData, _ := pkt.Get(proto.TCP)
	tcp, _ := tcpData.(*packet.TCPData)
	flowID := tlsFlowID(ip, tcp)
	state, ok := d.flows[flowID]
	if !ok {
		state = &tlsFlowState{}
		d.flows[flowID] = state
	}

	contentType := payload[0]
	length := int(payload[3])<<8 | int(payload[4])
	if len(payload) < 5+length {
		return proto.None, nil, fmt.Errorf("%w: truncated tls record body", ErrDrop)
	}
	body := payload[5 : 5+length]

	pkt.Set(proto.TLS, &packet.TLSData{
		ContentType: contentType,
		Version:     uint16(payload[1])<<8 | uint16(payload[2]),
		Decrypted:   false,
	})

	switch contentType {
	case recHandshake:
		d.observeHandshake(state, body)
		return proto.None, nil, nil
	case recApplication:
		plain, err := d.decryptApplicationData(state, body)
		if err != nil {
			return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
		}
		key := reassembly.FlowKey{Transport: "tls"}
		if ip != nil {
			key.SrcIP, key.DstIP = ip.SrcIP, ip.DstIP
		}
		if tcp != nil {
			key.SrcPort, key.DstPort = tcp.SrcPort, tcp.DstPort
		}
		pdus, err := d.reassembler.Feed(key, 0, false, false, plain)
		if err != nil {
			return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
		}
		if len(pdus) == 0 {
			return proto.None, nil, nil
		}
		return proto.SIP, pdus[0], nil
	default:
		return proto.None, nil, nil
	}
}

func tlsFlowID(ip *packet.IPData, tcp *packet.TCPData) string {
	if ip == nil || tcp == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d-%s:%d", ip.SrcIP, tcp.SrcPort, ip.DstIP, tcp.DstPort)
}

// observeHandshake extracts randoms from Client/ServerHello and, on
// ClientKeyExchange, decrypts the RSA-encrypted premaster secret and
// derives the master secret and key block.
func (d *TLSDissector) observeHandshake(state *tlsFlowState, body []byte) {
	for len(body) >= 4 {
		msgType := body[0]
		msgLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
		if len(body) < 4+msgLen {
			return
		}
		msg := body[4 : 4+msgLen]

		switch msgType {
		case handshakeClient:
			if len(msg) >= 34 {
				copy(state.clientRandom[:], msg[2:34])
			}
		case handshakeServer:
			if len(msg) >= 34 {
				copy(state.serverRandom[:], msg[2:34])
			}
		case handshakeCKE:
			if d.privateKey != nil && len(msg) >= 2 {
				encLen := int(msg[0])<<8 | int(msg[1])
				if len(msg) >= 2+encLen {
					pre, err := rsa.DecryptPKCS1v15(nil, d.privateKey, msg[2:2+encLen])
					if err == nil && len(pre) == 48 {
						d.deriveKeys(state, pre)
					}
				}
			}
		}
		body = body[4+msgLen:]
	}
}

// deriveKeys runs the TLS 1.2 PRF (P_hash over HMAC-SHA256) to expand the
// premaster secret into a master secret and then a key block (MAC keys +
// bulk-cipher keys for TLS_RSA_WITH_AES_128_CBC_SHA, the only suite this
// path handles).
func (d *TLSDissector) deriveKeys(state *tlsFlowState, premaster []byte) {
	seed := append(append([]byte{}, state.clientRandom[:]...), state.serverRandom[:]...)
	state.masterSecret = prf(premaster, []byte("master secret"), seed, 48)

	keySeed := append(append([]byte{}, state.serverRandom[:]...), state.clientRandom[:]...)
	keyBlock := prf(state.masterSecret, []byte("key expansion"), keySeed, 2*20+2*16)

	state.clientMAC = keyBlock[0:20]
	state.serverMAC = keyBlock[20:40]
	state.clientKey = keyBlock[40:56]
	state.serverKey = keyBlock[56:72]
	state.ready = true
}

// prf implements the P_hash(secret, seed) construction from RFC 2246 §5
// using HMAC-SHA256, expanded to the requested output length.
func prf(secret, label, seed []byte, length int) []byte {
	ls := append(append([]byte{}, label...), seed...)
	var out []byte
	a := ls
	for len(out) < length {
		mac := hmac.New(sha256.New, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac2 := hmac.New(sha256.New, secret)
		mac2.Write(a)
		mac2.Write(ls)
		out = append(out, mac2.Sum(nil)...)
	}
	return out[:length]
}

// decryptApplicationData decrypts one AES-128-CBC TLS record: the first
// block is the IV (TLS 1.1/1.2 explicit IV), remaining blocks are
// ciphertext; padding and the trailing HMAC-SHA1 MAC are stripped.
func (d *TLSDissector) decryptApplicationData(state *tlsFlowState, record []byte) ([]byte, error) {
	if !state.ready {
		return nil, fmt.Errorf("no master secret for flow")
	}
	if len(record) < aes.BlockSize*2 {
		return nil, fmt.Errorf("record too short")
	}

	// Both directions are attempted since the capture doesn't tell us which
	// side's key material applies without tracking handshake Finished
	// sequencing; client-key is tried first as it's more common for
	// request-carrying records (ClientHello-initiated signalling).
	for _, key := range [][]byte{state.clientKey, state.serverKey} {
		block, err := aes.NewCipher(key)
		if err != nil {
			continue
		}
		iv := record[:aes.BlockSize]
		ct := record[aes.BlockSize:]
		if len(ct)%aes.BlockSize != 0 {
			continue
		}
		plain := make([]byte, len(ct))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

		padLen := int(plain[len(plain)-1])
		if padLen >= len(plain) || padLen > aes.BlockSize {
			continue
		}
		plain = plain[:len(plain)-padLen-1]
		if len(plain) < sha1.Size {
			continue
		}
		return plain[:len(plain)-sha1.Size], nil
	}
	return nil, fmt.Errorf("unable to decrypt with derived keys")
}
