package common

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"sync"

	"github.com/juju/errors"
)

// 密码加密使用的 key
const aesTable = "pGnInJaCDMLxiDHIMG0FpXzp2LGIehp2"

var (
	block     cipher.Block
	blockOnce sync.Once
)

func getBlock() cipher.Block {
	blockOnce.Do(func() {
		cblock, err := aes.NewCipher([]byte(aesTable))
		if err != nil {
			panic("aes.NewCipher: " + err.Error())
		}
		block = cblock
	})

	return block
}

// AES加密, 返回 hex 字符串. 配置文件中的密码使用该函数生成
func Encrypt(origData string) (string, error) {
	src := pkcs5Padding([]byte(origData), aes.BlockSize)
	encryptText := make([]byte, aes.BlockSize+len(src))

	iv := encryptText[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", errors.Trace(err)
	}

	mode := cipher.NewCBCEncrypter(getBlock(), iv)
	mode.CryptBlocks(encryptText[aes.BlockSize:], src)

	return hex.EncodeToString(encryptText), nil
}

// AES解密
func Decrypt(crypted string) (string, error) {
	decryptText, err := hex.DecodeString(crypted)
	if err != nil {
		return "", errors.Annotate(err, "密码不是合法的hex字符串")
	}
	// 长度不能小于aes.Blocksize
	if len(decryptText) < aes.BlockSize {
		return "", errors.New("crypto/cipher: ciphertext too short")
	}

	iv := decryptText[:aes.BlockSize]
	decryptText = decryptText[aes.BlockSize:]

	// 必须为aes.Blocksize的倍数
	if len(decryptText) == 0 || len(decryptText)%aes.BlockSize != 0 {
		return "", errors.New("crypto/cipher: ciphertext is not a multiple of the block size")
	}

	mode := cipher.NewCBCDecrypter(getBlock(), iv)
	mode.CryptBlocks(decryptText, decryptText)

	plain, err := pkcs5UnPadding(decryptText)
	if err != nil {
		return "", errors.Trace(err)
	}

	return string(plain), nil
}

func pkcs5Padding(ciphertext []byte, blockSize int) []byte {
	padding := blockSize - len(ciphertext)%blockSize
	padtext := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(ciphertext, padtext...)
}

func pkcs5UnPadding(origData []byte) ([]byte, error) {
	length := len(origData)
	unpadding := int(origData[length-1])
	if unpadding == 0 || unpadding > length {
		return nil, errors.New("crypto/cipher: invalid padding")
	}
	return origData[:(length - unpadding)], nil
}
