package ledger

// mailboxABI is the interface of the BlockMail contract.
const mailboxABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "from",      "type": "address"},
      {"indexed": true,  "internalType": "address", "name": "to",        "type": "address"},
      {"indexed": false, "internalType": "string",  "name": "cid",       "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "Message",
    "type": "event"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "to",  "type": "address"},
      {"internalType": "string",  "name": "cid", "type": "string"}
    ],
    "name": "sendMessage",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

// registryABI is the interface of the KeyRegistry contract.
const registryABI = `[
  {
    "inputs": [{"internalType": "bytes32", "name": "key", "type": "bytes32"}],
    "name": "setPubKey",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "", "type": "address"}],
    "name": "pk",
    "outputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const (
	messageEvent     = "Message"
	sendMessageFunc  = "sendMessage"
	setPubKeyFunc    = "setPubKey"
	pubKeyGetterFunc = "pk"
)
