package chain

// oracleABI covers the PredictionOracle functions the pipeline calls
const oracleABI = `[
  {"type":"function","name":"oracleSigner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getMessageHash","stateMutability":"pure","inputs":[
    {"name":"id","type":"uint256"},{"name":"prediction","type":"uint256"},{"name":"confidence","type":"uint256"}
  ],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getEthSignedMessageHash","stateMutability":"pure","inputs":[
    {"name":"messageHash","type":"bytes32"}
  ],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"submitPrediction","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"uint256"},{"name":"prediction","type":"uint256"},{"name":"confidence","type":"uint256"},{"name":"signature","type":"bytes"}
  ],"outputs":[]}
]`

// marketABI covers the PredictionMarket views used by market sync
const marketABI = `[
  {"type":"function","name":"nextMarketId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"markets","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
    {"name":"id","type":"uint256"},
    {"name":"question","type":"string"},
    {"name":"lockTimestamp","type":"uint256"},
    {"name":"resolveTimestamp","type":"uint256"},
    {"name":"state","type":"uint8"},
    {"name":"provisionalOutcome","type":"uint8"},
    {"name":"finalOutcome","type":"uint8"},
    {"name":"totalYes","type":"uint256"},
    {"name":"totalNo","type":"uint256"},
    {"name":"disputeDeadline","type":"uint256"},
    {"name":"disputeStaker","type":"address"},
    {"name":"disputeBondAmount","type":"uint256"}
  ]}
]`
