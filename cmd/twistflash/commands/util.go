// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/owntech/twistflash/cmd/twistflash/directory"
	"github.com/owntech/twistflash/discovery"
)

func GetConfig() (*viper.Viper, error) {
	return directory.GetUserConfig()
}

// Board describes a flashable board: a display name plus the USB IDs its
// serial port enumerates with.
type Board struct {
	Name        string `mapstructure:"name"`
	VID         uint16 `mapstructure:"vid"`
	PID         uint16 `mapstructure:"pid"`
	Description string `mapstructure:"description"`
}

func (b Board) ID() discovery.DeviceID {
	return discovery.DeviceID{VID: b.VID, PID: b.PID}
}

// The OwnTech boards enumerate with the Zephyr project VID.
var builtinBoards = []Board{
	{Name: "twist", VID: 0x2fe3, PID: 0x0100},
	{Name: "spin", VID: 0x2fe3, PID: 0x0100},
}

// KnownBoards returns the builtin boards plus any defined in the user
// config under the "boards" key.
func KnownBoards(cfg *viper.Viper) ([]Board, error) {
	boards := append([]Board(nil), builtinBoards...)
	raw := cfg.Get("boards")
	if raw == nil {
		return boards, nil
	}
	var extra []Board
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &extra,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid boards config: %w", err)
	}
	return append(boards, extra...), nil
}

func FindBoard(cfg *viper.Viper, name string) (Board, error) {
	boards, err := KnownBoards(cfg)
	if err != nil {
		return Board{}, err
	}
	for _, board := range boards {
		if strings.EqualFold(board.Name, name) {
			return board, nil
		}
	}
	known := make([]string, 0, len(boards))
	for _, board := range boards {
		known = append(known, board.Name)
	}
	return Board{}, fmt.Errorf("unknown board '%s' (known boards: %s)", name, strings.Join(known, ", "))
}

// parseUSBIDValue accepts "0x2fe3" as well as bare "2fe3".
func parseUSBIDValue(value string) (uint16, error) {
	raw := strings.TrimPrefix(strings.ToLower(value), "0x")
	id, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("'%s' is not a 16-bit hex identifier", value)
	}
	return uint16(id), nil
}
