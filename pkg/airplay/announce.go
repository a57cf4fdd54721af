package airplay

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

// AnnounceParams параметры потока из SDP тела ANNOUNCE
type AnnounceParams struct {
	SessionName  string
	Codec        Codec
	Format       string
	EncryptedKey []byte
	IV           []byte
}

// KeyDecrypter снимает RSA обертку с AES ключа сессии.
// Реализация находится вне пакета вместе с приватным ключом приемника.
type KeyDecrypter func(encrypted []byte) ([]byte, error)

// ParseAnnounce разбирает SDP тело ANNOUNCE.
//
// Пример тела от iTunes:
//
//	v=0
//	o=iTunes 3413821438 0 IN IP4 10.0.1.2
//	s=iTunes
//	c=IN IP4 10.0.1.2
//	t=0 0
//	m=audio 0 RTP/AVP 96
//	a=rtpmap:96 AppleLossless
//	a=fmtp:96 352 0 16 40 10 14 2 255 0 0 44100
//	a=rsaaeskey:...
//	a=aesiv:...
func ParseAnnounce(body []byte) (*AnnounceParams, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, WrapError(ErrorCodeInvalidAnnounce, "", "ошибка разбора SDP", err)
	}

	var media *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			media = md
			break
		}
	}
	if media == nil {
		return nil, NewError(ErrorCodeInvalidAnnounce, "", "в SDP нет audio потока")
	}

	params := &AnnounceParams{SessionName: string(desc.SessionName)}

	rtpmap, ok := media.Attribute("rtpmap")
	if !ok {
		return nil, NewError(ErrorCodeInvalidAnnounce, "", "в SDP нет атрибута rtpmap")
	}
	payloadType, encoding := splitPayload(rtpmap)

	switch name := strings.ToLower(strings.SplitN(encoding, "/", 2)[0]); name {
	case "applelossless":
		params.Codec = CodecALAC
	case "mpeg4-generic":
		params.Codec = CodecAAC
	case "l16":
		params.Codec = CodecPCM
	default:
		return nil, NewError(ErrorCodeInvalidAnnounce, "", fmt.Sprintf("неподдерживаемый кодек %q", name))
	}

	if fmtp, ok := media.Attribute("fmtp"); ok {
		params.Format = fmtp
	} else if params.Codec == CodecPCM {
		params.Format = pcmDescriptor(payloadType, encoding)
	}

	if v, ok := media.Attribute("rsaaeskey"); ok {
		key, err := decodeBase64(v)
		if err != nil {
			return nil, WrapError(ErrorCodeInvalidAnnounce, "", "невалидный rsaaeskey", err)
		}
		params.EncryptedKey = key
	}
	if v, ok := media.Attribute("aesiv"); ok {
		iv, err := decodeBase64(v)
		if err != nil {
			return nil, WrapError(ErrorCodeInvalidAnnounce, "", "невалидный aesiv", err)
		}
		params.IV = iv
	}

	return params, nil
}

// SetupParams собирает параметры SETUP из ANNOUNCE и транспортных параметров.
// Если поток зашифрован, ключ расшифровывается через decrypt.
func (a *AnnounceParams) SetupParams(transport Transport, clientIP string, port int, decrypt KeyDecrypter) (SetupParams, error) {
	params := SetupParams{
		Transport: transport,
		ClientIP:  clientIP,
		Port:      port,
		Codec:     a.Codec,
		Format:    a.Format,
	}

	if len(a.EncryptedKey) == 0 {
		return params, nil
	}
	if decrypt == nil {
		return params, NewError(ErrorCodeInvalidAnnounce, "", "поток зашифрован, но расшифровщик ключа не задан")
	}

	key, err := decrypt(a.EncryptedKey)
	if err != nil {
		return params, errors.Wrap(err, "не удалось расшифровать AES ключ")
	}
	params.Key = key
	params.IV = a.IV

	return params, nil
}

func splitPayload(value string) (payloadType, rest string) {
	fields := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(fields) < 2 {
		return fields[0], ""
	}
	return fields[0], strings.TrimSpace(fields[1])
}

// pcmDescriptor строит дескриптор PCM "pt bits rate channels" из rtpmap вида "L16/44100/2"
func pcmDescriptor(payloadType, encoding string) string {
	parts := strings.Split(encoding, "/")
	rate := "44100"
	channels := "2"
	if len(parts) > 1 {
		rate = parts[1]
	}
	if len(parts) > 2 {
		channels = parts[2]
	}
	return fmt.Sprintf("%s 16 %s %s", payloadType, rate, channels)
}

// decodeBase64 декодирует base64 с дополнением и без него (iTunes опускает '=')
func decodeBase64(value string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(value), "="))
}
