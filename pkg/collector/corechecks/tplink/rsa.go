// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tplink

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// encryptPassword produces the password ciphertext the router's login form
// expects: the ascii password followed by zero bytes up to the modulus
// length, run through the raw RSA operation, hex encoded. The firmware
// decrypts with the bare textbook operation and strips trailing zeros, so
// standard PKCS#1 v1.5 randomized padding is rejected; the layout here must
// not change.
func encryptPassword(password, modulusHex, exponentHex string) (string, error) {
	n, ok := new(big.Int).SetString(modulusHex, 16)
	if !ok || n.Sign() <= 0 {
		return "", fmt.Errorf("invalid rsa modulus %q", modulusHex)
	}
	e, ok := new(big.Int).SetString(exponentHex, 16)
	if !ok || e.Sign() <= 0 {
		return "", fmt.Errorf("invalid rsa exponent %q", exponentHex)
	}
	k := (n.BitLen() + 7) / 8
	if len(password) > k {
		return "", fmt.Errorf("password longer than rsa modulus (%d > %d bytes)", len(password), k)
	}

	em := make([]byte, k)
	copy(em, password)

	c := new(big.Int).Exp(new(big.Int).SetBytes(em), e, n)
	out := make([]byte, k)
	c.FillBytes(out)
	return hex.EncodeToString(out), nil
}
