package solana

import (
	"crypto/sha256"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/near/borsh-go"
)

// Program IDs of the compressed token stack.
var (
	BubblegumProgramID   = common.PublicKeyFromString("BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY")
	CompressionProgramID = common.PublicKeyFromString("cmtDvXumGCrqC1Age74AVPhSRVXJMd8PJS91L8KbNCK")
	NoopProgramID        = common.PublicKeyFromString("noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV")
)

// discriminator returns the 8-byte anchor instruction prefix.
func discriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// Token standards and program versions as encoded by the bubblegum program.
const (
	tokenStandardNonFungible borsh.Enum = 0
	tokenProgramOriginal     borsh.Enum = 0
)

type createTreeArgs struct {
	MaxDepth      uint32
	MaxBufferSize uint32
	Public        *bool
}

type creator struct {
	Address  common.PublicKey
	Verified bool
	Share    uint8
}

type collection struct {
	Verified bool
	Key      common.PublicKey
}

type uses struct {
	UseMethod borsh.Enum
	Remaining uint64
	Total     uint64
}

type metadataArgs struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	PrimarySaleHappened  bool
	IsMutable            bool
	EditionNonce         *uint8
	TokenStandard        *borsh.Enum
	Collection           *collection
	Uses                 *uses
	TokenProgramVersion  borsh.Enum
	Creators             []creator
}

func instructionData(name string, args any) ([]byte, error) {
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", name, err)
	}
	return append(discriminator(name), body...), nil
}

// treeAuthority derives the config account that owns a tree.
func treeAuthority(tree common.PublicKey) (common.PublicKey, error) {
	pda, _, err := common.FindProgramAddress([][]byte{tree.Bytes()}, BubblegumProgramID)
	if err != nil {
		return common.PublicKey{}, fmt.Errorf("derive tree authority: %w", err)
	}
	return pda, nil
}

type createTreeParam struct {
	Tree      common.PublicKey
	Authority common.PublicKey
	Payer     common.PublicKey
	MaxDepth  int
	Buffer    int
}

func createTreeInstruction(p createTreeParam) (types.Instruction, error) {
	public := false
	data, err := instructionData("create_tree", createTreeArgs{
		MaxDepth:      uint32(p.MaxDepth), //nolint:gosec // bounded by the supported shapes
		MaxBufferSize: uint32(p.Buffer),   //nolint:gosec // bounded by the supported shapes
		Public:        &public,
	})
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: BubblegumProgramID,
		Accounts: []types.AccountMeta{
			{PubKey: p.Authority, IsWritable: true},
			{PubKey: p.Tree, IsWritable: true},
			{PubKey: p.Payer, IsSigner: true, IsWritable: true},
			{PubKey: p.Payer, IsSigner: true},
			{PubKey: NoopProgramID},
			{PubKey: CompressionProgramID},
			{PubKey: common.SystemProgramID},
		},
		Data: data,
	}, nil
}

type mintParam struct {
	Tree      common.PublicKey
	Authority common.PublicKey
	Payer     common.PublicKey
	Owner     common.PublicKey
	Name      string
	Symbol    string
	URI       string
	FeeBPS    uint16
}

func mintInstruction(p mintParam) (types.Instruction, error) {
	standard := tokenStandardNonFungible
	data, err := instructionData("mint_v1", metadataArgs{
		Name:                 p.Name,
		Symbol:               p.Symbol,
		URI:                  p.URI,
		SellerFeeBasisPoints: p.FeeBPS,
		IsMutable:            true,
		TokenStandard:        &standard,
		TokenProgramVersion:  tokenProgramOriginal,
		Creators:             []creator{{Address: p.Payer, Verified: true, Share: 100}},
	})
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: BubblegumProgramID,
		Accounts: []types.AccountMeta{
			{PubKey: p.Authority, IsWritable: true},
			{PubKey: p.Owner},
			{PubKey: p.Payer},
			{PubKey: p.Tree, IsWritable: true},
			{PubKey: p.Payer, IsSigner: true, IsWritable: true},
			{PubKey: p.Payer, IsSigner: true},
			{PubKey: NoopProgramID},
			{PubKey: CompressionProgramID},
			{PubKey: common.SystemProgramID},
		},
		Data: data,
	}, nil
}
